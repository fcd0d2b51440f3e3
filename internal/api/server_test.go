package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/pgmirror/pgmirror/internal/catalog"
	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/copier"
	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/discovery"
	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/lock"
	"github.com/pgmirror/pgmirror/internal/logging"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/target"
	"github.com/pgmirror/pgmirror/internal/transfer"
	"github.com/pgmirror/pgmirror/internal/ws"
)

const transferBody = `{"source_db_url":"postgres://u:p@src:5432/app","target_db_url":"postgres://u:p@dst:5432/app"}`

type testDeps struct {
	catalog catalog.MockLister
	copier  *copier.MockCopier
	connect database.ConnectFunc
}

// testServer creates a Server whose engine runs against mocks.
func testServer(t *testing.T, deps *testDeps, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	if deps.copier == nil {
		deps.copier = &copier.MockCopier{}
	}
	if deps.connect == nil {
		deps.connect = func(context.Context, database.Role, string) (database.Session, error) {
			return &database.MockSession{}, nil
		}
	}

	cfg := config.Default()
	cfg.Reports.Directory = t.TempDir()
	eng := engine.New(cfg, logging.Discard())
	eng.Leases = lock.NewManager("")
	eng.NewOrchestrator = func() *transfer.Orchestrator {
		return &transfer.Orchestrator{
			Connect:   deps.connect,
			Leases:    eng.Leases,
			Catalog:   deps.catalog,
			Extractor: discovery.MockExtractor{},
			Preparer:  &target.MockPreparer{},
			Copier:    deps.copier,
			Logger:    logging.Discard(),
		}
	}
	return New(eng, logging.Discard(), 0, opts...), eng
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitAll(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range eng.List() {
		if err := eng.Wait(ctx, r.ID); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t, &testDeps{})
	w := do(t, s.Handler(), "GET", "/api/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestTransfer_Async(t *testing.T) {
	s, eng := testServer(t, &testDeps{
		catalog: catalog.MockLister{Tables: []string{"users"}},
		copier:  &copier.MockCopier{Rows: map[string]int64{"users": 7}},
	})
	h := s.Handler()

	w := do(t, h, "POST", "/transfer", transferBody)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp AsyncAcceptedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID == "" || resp.Status != "accepted" {
		t.Errorf("response = %+v", resp)
	}
	waitAll(t, eng)

	w = do(t, h, "GET", "/api/transfers/"+resp.RunID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var st engine.RunStatus
	json.NewDecoder(w.Body).Decode(&st)
	if st.State != report.StatusCompleted || st.RowsCopied != 7 {
		t.Errorf("run status = %+v", st)
	}
	if strings.Contains(st.Source, "p@") {
		t.Errorf("password leaked in %q", st.Source)
	}

	w = do(t, h, "GET", "/api/transfers", "")
	var list RunListResponse
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Runs) != 1 || list.Runs[0].ID != resp.RunID {
		t.Errorf("list = %+v", list)
	}
}

func TestTransfer_Wait(t *testing.T) {
	s, _ := testServer(t, &testDeps{
		catalog: catalog.MockLister{Tables: []string{"a", "b"}},
		copier:  &copier.MockCopier{Rows: map[string]int64{"a": 2}, Errors: map[string]error{"b": errors.New("disk full")}},
	})

	w := do(t, s.Handler(), "POST", "/transfer?wait=true", transferBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp TransferResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != report.StatusCompletedWithFailures || resp.Report == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Report.Summary.Copied != 1 || resp.Report.Summary.Failed != 1 {
		t.Errorf("summary = %+v", resp.Report.Summary)
	}
}

func TestTransfer_CatalogFailure(t *testing.T) {
	s, _ := testServer(t, &testDeps{catalog: catalog.MockLister{Err: errors.New("permission denied")}})

	w := do(t, s.Handler(), "POST", "/transfer?wait=true", transferBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp TransferResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.Contains(resp.Error, "permission denied") || resp.Status != report.StatusFailed {
		t.Errorf("response = %+v", resp)
	}
}

func TestTransfer_BadRequests(t *testing.T) {
	s, _ := testServer(t, &testDeps{})
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing target", `{"source_db_url":"postgres://u@src/app"}`},
		{"blank source", `{"source_db_url":"  ","target_db_url":"postgres://u@dst/app"}`},
		{"unparseable url", `{"source_db_url":"postgres://u@src:notaport/app","target_db_url":"postgres://u@dst/app"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s.Handler(), "POST", "/transfer", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body)
			}
		})
	}
}

func TestTransfer_TargetBusy(t *testing.T) {
	release := make(chan struct{})
	s, eng := testServer(t, &testDeps{
		catalog: catalog.MockLister{Tables: []string{"a"}},
		copier:  &copier.MockCopier{Before: func(string) { <-release }},
	})
	h := s.Handler()

	if w := do(t, h, "POST", "/transfer", transferBody); w.Code != http.StatusAccepted {
		t.Fatalf("first transfer status = %d", w.Code)
	}
	w := do(t, h, "POST", "/transfer", transferBody)
	if w.Code != http.StatusConflict {
		t.Errorf("second transfer status = %d, want 409", w.Code)
	}
	close(release)
	waitAll(t, eng)
}

func TestTransfer_SameDatabase(t *testing.T) {
	s, eng := testServer(t, &testDeps{catalog: catalog.MockLister{Tables: []string{"a"}}})
	body := `{"source_db_url":"postgres://u:p@src:5432/app","target_db_url":"postgres://other@src:5432/app"}`
	for _, path := range []string{"/transfer", "/transfer?wait=true"} {
		w := do(t, s.Handler(), "POST", path, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
	if len(eng.List()) != 0 {
		t.Error("rejected runs should not be tracked")
	}
}

func TestTransfer_ConnectionFailure(t *testing.T) {
	s, _ := testServer(t, &testDeps{
		connect: func(_ context.Context, role database.Role, _ string) (database.Session, error) {
			return nil, &database.ConnectionError{Role: role, Endpoint: "postgres://u@src:5432/app", Err: errors.New("connection refused")}
		},
	})
	for _, path := range []string{"/transfer", "/transfer?wait=true"} {
		w := do(t, s.Handler(), "POST", path, transferBody)
		if w.Code != http.StatusBadGateway {
			t.Errorf("%s: status = %d, want 502", path, w.Code)
		}
	}
}

func TestGetTransfer_NotFound(t *testing.T) {
	s, _ := testServer(t, &testDeps{})
	if w := do(t, s.Handler(), "GET", "/api/transfers/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := do(t, s.Handler(), "POST", "/api/transfers/missing/cancel", ""); w.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", w.Code)
	}
}

func TestCancelTransfer(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, eng := testServer(t, &testDeps{
		catalog: catalog.MockLister{Tables: []string{"a", "b"}},
		copier: &copier.MockCopier{Before: func(table string) {
			if table == "a" {
				close(started)
				<-release
			}
		}},
	})
	h := s.Handler()

	w := do(t, h, "POST", "/transfer", transferBody)
	var resp AsyncAcceptedResponse
	json.NewDecoder(w.Body).Decode(&resp)
	<-started

	if w := do(t, h, "POST", "/api/transfers/"+resp.RunID+"/cancel", ""); w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", w.Code)
	}
	close(release)
	waitAll(t, eng)

	st, _ := eng.Status(resp.RunID)
	if st.State != report.StatusCancelled {
		t.Errorf("state = %s, want cancelled", st.State)
	}
	if w := do(t, h, "POST", "/api/transfers/"+resp.RunID+"/cancel", ""); w.Code != http.StatusConflict {
		t.Errorf("cancel finished run status = %d, want 409", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	s, _ := testServer(t, &testDeps{}, WithDevMode(true))
	h := s.Handler()

	w := do(t, h, "OPTIONS", "/api/health", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = do(t, h, "GET", "/api/health", "")
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	s, _ = testServer(t, &testDeps{})
	w = do(t, s.Handler(), "GET", "/api/health", "")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS header set without dev mode")
	}
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	errorResponse(w, http.StatusTeapot, "nope")
	if w.Code != http.StatusTeapot || w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("code = %d, content type = %q", w.Code, w.Header().Get("Content-Type"))
	}
	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error != "nope" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestWebSocketProgress(t *testing.T) {
	hub := ws.NewHub(logging.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go hub.Run(ctx)

	s, eng := testServer(t, &testDeps{
		catalog: catalog.MockLister{Tables: []string{"users"}},
		copier:  &copier.MockCopier{Rows: map[string]int64{"users": 3}},
	}, WithHub(hub))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() ws.Message {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		return msg
	}

	if msg := read(); msg.Type != ws.MsgFullState {
		t.Fatalf("first message = %s", msg.Type)
	}
	for hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/transfer?wait=true", "application/json", bytes.NewBufferString(transferBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer status = %d", resp.StatusCode)
	}
	waitAll(t, eng)

	var got []ws.MessageType
	for len(got) == 0 || got[len(got)-1] != ws.MsgRunFinished {
		got = append(got, read().Type)
	}
	want := []ws.MessageType{ws.MsgRunStarted, ws.MsgTablesListed, ws.MsgTableStarted, ws.MsgBatchCommitted, ws.MsgTableOutcome, ws.MsgRunFinished}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, got[i], want[i])
		}
	}
}
