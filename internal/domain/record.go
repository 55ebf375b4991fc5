package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidBlob    = errors.New("invalid blob reference")
)

// BlobRef references a blob stored in a repository.
type BlobRef struct {
	Type     string  `json:"$type,omitempty"`
	Ref      CIDLink `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size"`
}

// CIDLink is the JSON encoding of a content identifier.
type CIDLink struct {
	Link string `json:"$link"`
}

// MessageRecord is the lexicon record written to the watched collection.
// Timestamps are RFC 3339 strings as stored in the repository.
type MessageRecord struct {
	Type           string   `json:"$type,omitempty"`
	Text           *string  `json:"text,omitempty"`
	Video          *BlobRef `json:"video,omitempty"`
	BlueskyPostURI string   `json:"blueskyPostUri,omitempty"`
	ExpiresAt      string   `json:"expiresAt,omitempty"`
	CreatedAt      string   `json:"createdAt,omitempty"`
}

// RecordRef identifies a record written to a repository.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// RKey returns the record key, the last segment of the AT-URI.
func (r RecordRef) RKey() string {
	return RKeyFromURI(r.URI)
}

// Record is an entry returned by listRecords.
type Record struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// RKeyFromURI extracts the record key from an at:// URI.
func RKeyFromURI(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// RepoClient is an authenticated capability bound to one identity. It issues
// writes against that identity's repository; credentials never leave it.
type RepoClient interface {
	DID() string
	CreateRecord(ctx context.Context, collection string, record any) (*RecordRef, error)
	DeleteRecord(ctx context.Context, collection, rkey string) error
	UploadBlob(ctx context.Context, data []byte, mimeType string) (*BlobRef, error)
	ListRecords(ctx context.Context, collection string, limit int) ([]*Record, error)
}
