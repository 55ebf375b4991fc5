// Package ingest turns stream events into cache mutations.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/firehose"

	"github.com/goccy/go-json"
)

// HandleResolver maps a DID to its current handle.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, did string) (string, error)
}

// EndpointResolver maps a DID to the base URL of its data server.
type EndpointResolver interface {
	ResolvePDS(ctx context.Context, did string) (string, error)
}

// Outcome classifies a mapped event.
type Outcome int

const (
	Ignore Outcome = iota
	Accept
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accepted"
	case Reject:
		return "rejected"
	default:
		return "ignored"
	}
}

// Result is the mapper's verdict. Message is set for Accept; ID is set for
// Accept and Reject.
type Result struct {
	Outcome Outcome
	ID      string
	Message *domain.ChatMessage
	Reason  string
}

func ignore(reason string) Result {
	return Result{Outcome: Ignore, Reason: reason}
}

// Mapper converts raw events to chat messages for one collection.
type Mapper struct {
	collection string
	handles    HandleResolver
	endpoints  EndpointResolver
	now        func() time.Time
}

// NewMapper creates a mapper. Either resolver may be nil, in which case the
// corresponding field is left empty.
func NewMapper(collection string, handles HandleResolver, endpoints EndpointResolver) *Mapper {
	return &Mapper{
		collection: collection,
		handles:    handles,
		endpoints:  endpoints,
		now:        time.Now,
	}
}

// Map never panics: anything unexpected becomes Ignore.
func (m *Mapper) Map(ctx context.Context, ev *firehose.Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = ignore(fmt.Sprintf("panic while mapping: %v", r))
		}
	}()

	if ev == nil || ev.Kind != firehose.KindCommit || ev.Commit == nil {
		return ignore("not a commit")
	}

	commit := ev.Commit
	if commit.Collection != m.collection {
		return ignore("other collection")
	}
	if commit.RKey == "" || ev.DID == "" {
		return ignore("missing record key or author")
	}

	switch commit.Operation {
	case firehose.OpDelete:
		return Result{Outcome: Reject, ID: commit.RKey}
	case firehose.OpCreate, firehose.OpUpdate:
		return m.mapRecord(ctx, ev)
	default:
		return ignore("unknown operation")
	}
}

func (m *Mapper) mapRecord(ctx context.Context, ev *firehose.Event) Result {
	commit := ev.Commit
	if len(commit.Record) == 0 || string(commit.Record) == "null" {
		return ignore("missing record")
	}

	var record domain.MessageRecord
	if err := json.Unmarshal(commit.Record, &record); err != nil {
		return ignore("malformed record")
	}
	if record.Text == nil {
		return ignore("record has no text")
	}

	now := m.now()

	var expiresAt int64
	if record.ExpiresAt != "" {
		t, err := parseTime(record.ExpiresAt)
		if err != nil {
			return ignore("unparsable expiresAt")
		}
		if t.Before(now) {
			return ignore("expired")
		}
		expiresAt = t.UnixMilli()
	}

	createdAt := eventTime(ev, now).UnixMilli()
	if t, err := parseTime(record.CreatedAt); err == nil {
		createdAt = t.UnixMilli()
	}

	msg := &domain.ChatMessage{
		ID:           commit.RKey,
		Text:         *record.Text,
		AuthorID:     ev.DID,
		CreatedAt:    createdAt,
		CrossPostRef: record.BlueskyPostURI,
		ExpiresAt:    expiresAt,
	}

	if m.handles != nil {
		handle, err := m.handles.ResolveHandle(ctx, ev.DID)
		if err != nil {
			slog.Debug("handle resolution failed",
				slog.String("did", ev.DID),
				slog.String("error", err.Error()))
		} else {
			msg.AuthorHandle = handle
		}
	}

	if record.Video != nil && record.Video.Ref.Link != "" && m.endpoints != nil {
		pds, err := m.endpoints.ResolvePDS(ctx, ev.DID)
		if err != nil {
			slog.Debug("media endpoint resolution failed",
				slog.String("did", ev.DID),
				slog.String("error", err.Error()))
		} else {
			msg.MediaURL = BlobURL(pds, ev.DID, record.Video.Ref.Link)
		}
	}

	return Result{Outcome: Accept, ID: msg.ID, Message: msg}
}

// BlobURL is the public getBlob address of a blob on a data server.
func BlobURL(pds, did, cid string) string {
	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", cid)
	return pds + "/xrpc/com.atproto.sync.getBlob?" + q.Encode()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func eventTime(ev *firehose.Event, fallback time.Time) time.Time {
	if ev.TimeUS > 0 {
		return time.UnixMicro(ev.TimeUS)
	}
	return fallback
}
