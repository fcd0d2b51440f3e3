package aws

import (
	"context"
	"errors"
	"testing"
)

func TestReportUploader_Upload(t *testing.T) {
	client := NewMockClient()
	u := NewReportUploader(client, "backups", "pgmirror/reports")

	uri, err := u.Upload(context.Background(), "run-1", []byte(`{"run_id":"run-1"}`))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uri != "s3://backups/pgmirror/reports/run-1.json" {
		t.Errorf("uri = %s", uri)
	}
	if string(client.UploadedObjects["backups/pgmirror/reports/run-1.json"]) != `{"run_id":"run-1"}` {
		t.Errorf("uploaded = %v", client.UploadedObjects)
	}
}

func TestReportUploader_NoPrefix(t *testing.T) {
	client := NewMockClient()
	uri, err := NewReportUploader(client, "b", "").Upload(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if uri != "s3://b/x.json" {
		t.Errorf("uri = %s", uri)
	}
}

func TestReportUploader_Error(t *testing.T) {
	client := NewMockClient()
	client.UploadErr = errors.New("AccessDenied")
	if _, err := NewReportUploader(client, "b", "p").Upload(context.Background(), "x", nil); err == nil {
		t.Error("expected error")
	}
}
