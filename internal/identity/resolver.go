// Package identity resolves DIDs to their documents, handles and PDS
// endpoints.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"friendclub/internal/observability"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrDIDNotFound       = errors.New("did not found")
	ErrUnsupportedDID    = errors.New("unsupported did method")
	ErrNoHandle          = errors.New("did document has no handle")
	ErrNoPDS             = errors.New("did document has no pds endpoint")
	ErrHandleNotResolved = errors.New("handle could not be resolved")
)

const (
	breakerName     = "did-directory"
	defaultCacheTTL = 10 * time.Minute
	requestTimeout  = 5 * time.Second
)

// Document is the subset of a DID document this application reads.
type Document struct {
	ID          string    `json:"id"`
	AlsoKnownAs []string  `json:"alsoKnownAs"`
	Service     []Service `json:"service"`
}

// Service is a DID document service entry.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Handle returns the first at:// alias without its scheme.
func (d *Document) Handle() string {
	for _, aka := range d.AlsoKnownAs {
		if strings.HasPrefix(aka, "at://") {
			return strings.TrimPrefix(aka, "at://")
		}
	}
	return ""
}

// PDSEndpoint returns the personal data server URL.
func (d *Document) PDSEndpoint() string {
	for _, s := range d.Service {
		if strings.HasSuffix(s.ID, "#atproto_pds") || s.Type == "AtprotoPersonalDataServer" {
			return strings.TrimRight(s.ServiceEndpoint, "/")
		}
	}
	return ""
}

type cacheEntry struct {
	doc     *Document
	expires time.Time
}

// Resolver fetches DID documents from the PLC directory (did:plc) or the
// owning host (did:web). Lookups share a circuit breaker so a directory
// outage degrades messages instead of stalling ingestion.
type Resolver struct {
	plcURL     string
	pdsURL     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Document]
	group      singleflight.Group
	ttl        time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	cache     map[string]cacheEntry
	nextSweep time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithCacheTTL sets how long resolved documents are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// NewResolver creates a resolver. plcURL is the directory base URL and
// pdsURL the service used to resolve handles at login.
func NewResolver(plcURL, pdsURL string, opts ...Option) *Resolver {
	r := &Resolver{
		plcURL:     strings.TrimRight(plcURL, "/"),
		pdsURL:     strings.TrimRight(pdsURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		ttl:        defaultCacheTTL,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}

	observability.IdentityBreakerState.Set(0)
	r.breaker = gobreaker.NewCircuitBreaker[*Document](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// an unknown DID is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDIDNotFound) || errors.Is(err, ErrUnsupportedDID)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			observability.IdentityBreakerState.Set(stateToFloat(to))
		},
	})

	return r
}

// Resolve returns the DID document for did, served from cache when fresh.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Document, error) {
	if doc, ok := r.cached(did); ok {
		observability.IdentityLookupsTotal.WithLabelValues("cache").Inc()
		return doc, nil
	}

	v, err, _ := r.group.Do(did, func() (any, error) {
		return r.breaker.Execute(func() (*Document, error) {
			return r.fetch(ctx, did)
		})
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		observability.IdentityLookupsTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	doc := v.(*Document)
	observability.IdentityLookupsTotal.WithLabelValues("fetched").Inc()

	r.store(did, doc)

	return doc, nil
}

// ResolveHandle returns the handle for did.
func (r *Resolver) ResolveHandle(ctx context.Context, did string) (string, error) {
	doc, err := r.Resolve(ctx, did)
	if err != nil {
		return "", err
	}
	handle := doc.Handle()
	if handle == "" {
		return "", ErrNoHandle
	}
	return handle, nil
}

// ResolvePDS returns the PDS base URL for did.
func (r *Resolver) ResolvePDS(ctx context.Context, did string) (string, error) {
	doc, err := r.Resolve(ctx, did)
	if err != nil {
		return "", err
	}
	endpoint := doc.PDSEndpoint()
	if endpoint == "" {
		return "", ErrNoPDS
	}
	return endpoint, nil
}

// ResolveHandleToDID maps a handle to its DID through
// com.atproto.identity.resolveHandle. A value that already is a DID is
// returned unchanged.
func (r *Resolver) ResolveHandleToDID(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if strings.HasPrefix(handle, "did:") {
		return handle, nil
	}
	if handle == "" {
		return "", ErrHandleNotResolved
	}

	endpoint := r.pdsURL + "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(handle)

	var out struct {
		DID string `json:"did"`
	}
	status, err := r.getJSON(ctx, endpoint, &out)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrHandleNotResolved, handle)
		}
		return "", fmt.Errorf("failed to resolve handle: %w", err)
	}
	if out.DID == "" {
		return "", fmt.Errorf("%w: %s", ErrHandleNotResolved, handle)
	}
	return out.DID, nil
}

func (r *Resolver) cached(did string) (*Document, bool) {
	now := r.now()

	r.mu.RLock()
	e, ok := r.cache[did]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(e.expires) {
		r.mu.Lock()
		if cur, ok := r.cache[did]; ok && now.After(cur.expires) {
			delete(r.cache, did)
		}
		r.mu.Unlock()
		return nil, false
	}
	return e.doc, true
}

// store caches doc and, at most once per TTL, drops every expired entry so
// authors that are never looked up again do not accumulate.
func (r *Resolver) store(did string, doc *Document) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !now.Before(r.nextSweep) {
		for k, e := range r.cache {
			if now.After(e.expires) {
				delete(r.cache, k)
			}
		}
		r.nextSweep = now.Add(r.ttl)
	}
	r.cache[did] = cacheEntry{doc: doc, expires: now.Add(r.ttl)}
}

func (r *Resolver) cacheLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) fetch(ctx context.Context, did string) (*Document, error) {
	var endpoint string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		endpoint = r.plcURL + "/" + did
	case strings.HasPrefix(did, "did:web:"):
		host, err := url.PathUnescape(strings.TrimPrefix(did, "did:web:"))
		if err != nil || host == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedDID, did)
		}
		endpoint = "https://" + host + "/.well-known/did.json"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDID, did)
	}

	var doc Document
	status, err := r.getJSON(ctx, endpoint, &doc)
	if err != nil {
		if status == http.StatusNotFound || status == http.StatusGone {
			return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
		}
		return nil, fmt.Errorf("failed to fetch did document: %w", err)
	}
	return &doc, nil
}

func (r *Resolver) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
