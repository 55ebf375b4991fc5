// Package testutil provides shared test doubles and fixtures.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"friendclub/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockRemote         = errors.New("mock: remote failure")
)

// MockRepoClient implements domain.RepoClient. Without overrides it behaves
// like a tiny in-memory repository keyed by collection/rkey.
type MockRepoClient struct {
	mu sync.Mutex

	Identity string

	CreateRecordFunc func(ctx context.Context, collection string, record any) (*domain.RecordRef, error)
	DeleteRecordFunc func(ctx context.Context, collection, rkey string) error
	UploadBlobFunc   func(ctx context.Context, data []byte, mimeType string) (*domain.BlobRef, error)
	ListRecordsFunc  func(ctx context.Context, collection string, limit int) ([]*domain.Record, error)

	Created []any
	Deleted []string
	Blobs   [][]byte
	counter int
}

// NewMockRepoClient returns a client bound to did.
func NewMockRepoClient(did string) *MockRepoClient {
	return &MockRepoClient{Identity: did}
}

func (m *MockRepoClient) DID() string {
	return m.Identity
}

func (m *MockRepoClient) CreateRecord(ctx context.Context, collection string, record any) (*domain.RecordRef, error) {
	if m.CreateRecordFunc != nil {
		return m.CreateRecordFunc(ctx, collection, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	m.Created = append(m.Created, record)
	rkey := fmt.Sprintf("rkey%d", m.counter)
	return &domain.RecordRef{
		URI: fmt.Sprintf("at://%s/%s/%s", m.Identity, collection, rkey),
		CID: "bafy" + rkey,
	}, nil
}

func (m *MockRepoClient) DeleteRecord(ctx context.Context, collection, rkey string) error {
	if m.DeleteRecordFunc != nil {
		return m.DeleteRecordFunc(ctx, collection, rkey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, rkey)
	return nil
}

func (m *MockRepoClient) UploadBlob(ctx context.Context, data []byte, mimeType string) (*domain.BlobRef, error) {
	if m.UploadBlobFunc != nil {
		return m.UploadBlobFunc(ctx, data, mimeType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blobs = append(m.Blobs, data)
	return &domain.BlobRef{
		Type:     "blob",
		Ref:      domain.CIDLink{Link: fmt.Sprintf("bafkblob%d", len(m.Blobs))},
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

func (m *MockRepoClient) ListRecords(ctx context.Context, collection string, limit int) ([]*domain.Record, error) {
	if m.ListRecordsFunc != nil {
		return m.ListRecordsFunc(ctx, collection, limit)
	}
	return nil, nil
}

// DeletedKeys returns a copy of the deleted record keys.
func (m *MockRepoClient) DeletedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Deleted...)
}

// CreatedRecords returns a copy of the records passed to CreateRecord.
func (m *MockRepoClient) CreatedRecords() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.Created...)
}

// MockResolver implements the handle and endpoint resolvers used by the
// mapper and the auth service.
type MockResolver struct {
	ResolveHandleFunc      func(ctx context.Context, did string) (string, error)
	ResolvePDSFunc         func(ctx context.Context, did string) (string, error)
	ResolveHandleToDIDFunc func(ctx context.Context, handle string) (string, error)

	Handles map[string]string
	PDS     map[string]string
}

// NewMockResolver creates a resolver with empty tables.
func NewMockResolver() *MockResolver {
	return &MockResolver{
		Handles: make(map[string]string),
		PDS:     make(map[string]string),
	}
}

func (m *MockResolver) ResolveHandle(ctx context.Context, did string) (string, error) {
	if m.ResolveHandleFunc != nil {
		return m.ResolveHandleFunc(ctx, did)
	}
	if h, ok := m.Handles[did]; ok {
		return h, nil
	}
	return "", errors.New("mock: unknown did")
}

func (m *MockResolver) ResolvePDS(ctx context.Context, did string) (string, error) {
	if m.ResolvePDSFunc != nil {
		return m.ResolvePDSFunc(ctx, did)
	}
	if p, ok := m.PDS[did]; ok {
		return p, nil
	}
	return "", errors.New("mock: unknown did")
}

func (m *MockResolver) ResolveHandleToDID(ctx context.Context, handle string) (string, error) {
	if m.ResolveHandleToDIDFunc != nil {
		return m.ResolveHandleToDIDFunc(ctx, handle)
	}
	for did, h := range m.Handles {
		if h == handle {
			return did, nil
		}
	}
	return "", errors.New("mock: unknown handle")
}

// RecordingBroadcaster captures fan-out calls.
type RecordingBroadcaster struct {
	mu      sync.Mutex
	Created []*domain.ChatMessage
	Deleted []string
}

func (b *RecordingBroadcaster) BroadcastCreate(message *domain.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Created = append(b.Created, message.Clone())
}

func (b *RecordingBroadcaster) BroadcastDelete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Deleted = append(b.Deleted, id)
}

// CreatedIDs returns the ids of broadcast creates in call order.
func (b *RecordingBroadcaster) CreatedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.Created))
	for i, m := range b.Created {
		ids[i] = m.ID
	}
	return ids
}

// DeletedIDs returns the broadcast delete ids in call order.
func (b *RecordingBroadcaster) DeletedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Deleted...)
}
