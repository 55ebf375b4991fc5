// Package reconcile deletes expired messages from their authors'
// repositories and evicts them from the cache once the remote delete succeeds.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"

	"github.com/goccy/go-json"
)

const (
	// DefaultInterval between reconciliation cycles.
	DefaultInterval = 5 * time.Minute
	// SweepLimit caps how many of one identity's records a login sweep inspects.
	SweepLimit = 100

	defaultDeleteTimeout = 30 * time.Second
)

// Cache is the part of the bounded cache the reconciler reads and evicts from.
type Cache interface {
	Expired(ctx context.Context) ([]*domain.ChatMessage, error)
	Delete(ctx context.Context, id string) error
}

// Broadcaster announces evictions to live viewers.
type Broadcaster interface {
	BroadcastDelete(id string)
}

// Result summarises one cycle.
type Result struct {
	Expired   int
	Deleted   int
	NoSession int
	Failed    int
}

type Reconciler struct {
	cache         Cache
	sessions      domain.SessionRepository
	fanout        Broadcaster
	collection    string
	interval      time.Duration
	deleteTimeout time.Duration
	now           func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func WithDeleteTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.deleteTimeout = d
	}
}

func New(cache Cache, sessions domain.SessionRepository, fanout Broadcaster, collection string, interval time.Duration, opts ...Option) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reconciler{
		cache:         cache,
		sessions:      sessions,
		fanout:        fanout,
		collection:    collection,
		interval:      interval,
		deleteTimeout: defaultDeleteTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve runs one cycle immediately and then one per interval until ctx is
// cancelled. A cycle already in progress is allowed to finish.
func (r *Reconciler) Serve(ctx context.Context) error {
	slog.Info("starting expiration reconciler", slog.Duration("interval", r.interval))

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping expiration reconciler")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Reconciler) String() string {
	return "expiration-reconciler"
}

// RunOnce performs a single reconciliation cycle.
func (r *Reconciler) RunOnce(ctx context.Context) Result {
	ctx = context.WithoutCancel(ctx)
	observability.ReconcileRunsTotal.Inc()

	var res Result
	expired, err := r.cache.Expired(ctx)
	if err != nil {
		slog.Error("failed to read expired messages", slog.String("error", err.Error()))
		return res
	}
	res.Expired = len(expired)
	if res.Expired == 0 {
		return res
	}

	slog.Info("found expired messages", slog.Int("count", res.Expired))

	for _, m := range expired {
		sess, err := r.sessions.FindByDID(m.AuthorID)
		if err != nil {
			res.NoSession++
			observability.ReconcileDeletesTotal.WithLabelValues("no_session").Inc()
			slog.Debug("no active session for author, skipping",
				slog.String("did", m.AuthorID),
				slog.String("id", m.ID))
			continue
		}

		if err := r.deleteRemote(ctx, sess.Client, m.ID); err != nil {
			res.Failed++
			observability.ReconcileDeletesTotal.WithLabelValues("failed").Inc()
			slog.Warn("failed to delete expired message",
				slog.String("id", m.ID),
				slog.String("did", m.AuthorID),
				slog.String("error", err.Error()))
			continue
		}

		if err := r.cache.Delete(ctx, m.ID); err != nil {
			slog.Error("failed to evict deleted message",
				slog.String("id", m.ID),
				slog.String("error", err.Error()))
			continue
		}
		r.fanout.BroadcastDelete(m.ID)
		res.Deleted++
		observability.ReconcileDeletesTotal.WithLabelValues("deleted").Inc()
		slog.Info("deleted expired message",
			slog.String("id", m.ID),
			slog.String("did", m.AuthorID))
	}

	return res
}

// SweepIdentity deletes the expired records in one identity's own
// repository. It runs right after login and returns how many were removed.
func (r *Reconciler) SweepIdentity(ctx context.Context, client domain.RepoClient) (int, error) {
	records, err := client.ListRecords(ctx, r.collection, SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	now := r.now()
	deleted := 0
	for _, rec := range records {
		expiresAt, ok := recordExpiry(rec)
		if !ok || expiresAt.After(now) {
			continue
		}

		rkey := domain.RKeyFromURI(rec.URI)
		if err := r.deleteRemote(ctx, client, rkey); err != nil {
			observability.ReconcileDeletesTotal.WithLabelValues("sweep_failed").Inc()
			slog.Warn("failed to delete own expired record",
				slog.String("did", client.DID()),
				slog.String("rkey", rkey),
				slog.String("error", err.Error()))
			continue
		}

		deleted++
		observability.ReconcileDeletesTotal.WithLabelValues("swept").Inc()
		if err := r.cache.Delete(ctx, rkey); err != nil {
			slog.Error("failed to evict swept message",
				slog.String("id", rkey),
				slog.String("error", err.Error()))
			continue
		}
		r.fanout.BroadcastDelete(rkey)
	}

	if deleted > 0 {
		slog.Info("swept expired records",
			slog.String("did", client.DID()),
			slog.Int("count", deleted))
	}
	return deleted, nil
}

func (r *Reconciler) deleteRemote(ctx context.Context, client domain.RepoClient, rkey string) error {
	if client == nil {
		return errors.New("session has no repository client")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deleteTimeout)
	defer cancel()
	return client.DeleteRecord(ctx, r.collection, rkey)
}

func recordExpiry(rec *domain.Record) (time.Time, bool) {
	var value domain.MessageRecord
	if err := json.Unmarshal(rec.Value, &value); err != nil || value.ExpiresAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value.ExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
