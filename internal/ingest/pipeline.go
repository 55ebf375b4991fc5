package ingest

import (
	"context"
	"log/slog"
	"sync"

	"friendclub/internal/domain"
	"friendclub/internal/firehose"
	"friendclub/internal/observability"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrent per-event resolutions.
const DefaultMaxInFlight = 32

// Cache is the mutation side of the bounded cache.
type Cache interface {
	Upsert(ctx context.Context, message *domain.ChatMessage) error
	Delete(ctx context.Context, id string) error
}

// Broadcaster pushes changes to connected viewers.
type Broadcaster interface {
	BroadcastCreate(message *domain.ChatMessage)
	BroadcastDelete(id string)
}

// Pipeline maps events concurrently and applies the results. Each result is
// tagged with the id it concerns and the stream position of its event; a
// result superseded by a later event for the same id is dropped, so a slow
// create can never resurrect a message whose delete already applied.
type Pipeline struct {
	mapper *Mapper
	cache  Cache
	fanout Broadcaster
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu     sync.Mutex
	pos    uint64
	latest map[string]uint64
}

// NewPipeline wires a mapper to its sinks.
func NewPipeline(mapper *Mapper, cache Cache, fanout Broadcaster, maxInFlight int64) *Pipeline {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Pipeline{
		mapper: mapper,
		cache:  cache,
		fanout: fanout,
		sem:    semaphore.NewWeighted(maxInFlight),
		latest: make(map[string]uint64),
	}
}

// Sink adapts the pipeline to the stream client.
func (p *Pipeline) Sink(ctx context.Context) firehose.Sink {
	return func(ev *firehose.Event) {
		p.Handle(ctx, ev)
	}
}

// Handle schedules ev for mapping. It blocks only while the in-flight limit
// is reached.
func (p *Pipeline) Handle(ctx context.Context, ev *firehose.Event) {
	if ev == nil || ev.Commit == nil || ev.Commit.RKey == "" {
		p.record(Result{Outcome: Ignore})
		return
	}

	id := ev.Commit.RKey
	p.mu.Lock()
	p.pos++
	pos := p.pos
	p.latest[id] = pos
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)

		res := p.mapper.Map(ctx, ev)
		p.apply(ctx, id, pos, res)
	}()
}

// Wait blocks until every scheduled event has been applied.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) apply(ctx context.Context, id string, pos uint64, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.latest[id] != pos {
		observability.IngestResultsTotal.WithLabelValues("superseded").Inc()
		return
	}
	delete(p.latest, id)

	p.record(res)

	switch res.Outcome {
	case Accept:
		if err := p.cache.Upsert(ctx, res.Message); err != nil {
			slog.Error("failed to cache message",
				slog.String("rkey", res.ID),
				slog.String("error", err.Error()))
			return
		}
		p.fanout.BroadcastCreate(res.Message)
		slog.Debug("message accepted",
			slog.String("rkey", res.ID),
			slog.String("did", res.Message.AuthorID))

	case Reject:
		if err := p.cache.Delete(ctx, res.ID); err != nil {
			slog.Error("failed to delete cached message",
				slog.String("rkey", res.ID),
				slog.String("error", err.Error()))
			return
		}
		p.fanout.BroadcastDelete(res.ID)
		slog.Debug("message deleted", slog.String("rkey", res.ID))

	default:
		slog.Debug("event ignored",
			slog.String("rkey", id),
			slog.String("reason", res.Reason))
	}
}

func (p *Pipeline) record(res Result) {
	observability.IngestResultsTotal.WithLabelValues(res.Outcome.String()).Inc()
}
