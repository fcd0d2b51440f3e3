package aws

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
type MockClient struct {
	UploadErr error

	mu              sync.Mutex
	UploadedObjects map[string][]byte // bucket/key → data
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{UploadedObjects: make(map[string][]byte)}
}

func (m *MockClient) UploadToS3(_ context.Context, bucket, key string, data []byte) error {
	if m.UploadErr != nil {
		return m.UploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadedObjects[bucket+"/"+key] = data
	return nil
}
