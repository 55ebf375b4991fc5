// Package atproto is a minimal XRPC client for the repository operations
// the chat needs: sessions, records and blobs.
package atproto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"friendclub/internal/domain"

	"github.com/goccy/go-json"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// XRPCError is a non-2xx XRPC response.
type XRPCError struct {
	Status  int    `json:"-"`
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *XRPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xrpc %d %s: %s", e.Status, e.Name, e.Message)
	}
	return fmt.Sprintf("xrpc %d %s", e.Status, e.Name)
}

// IsXRPCError reports whether err carries an XRPC error with the given name.
func IsXRPCError(err error, name string) bool {
	var xe *XRPCError
	return errors.As(err, &xe) && xe.Name == name
}

// Credentials are the tokens returned by createSession.
type Credentials struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
}

// CreateSession logs in with an identifier (handle, DID or email) and an app
// password against pdsURL.
func CreateSession(ctx context.Context, httpClient *http.Client, pdsURL, identifier, password string) (*Credentials, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	body, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := call(ctx, httpClient, http.MethodPost, xrpcURL(pdsURL, "com.atproto.server.createSession", nil),
		"", "application/json", body, &creds); err != nil {
		return nil, err
	}
	if creds.DID == "" || creds.AccessJWT == "" {
		return nil, errors.New("createSession returned no credentials")
	}
	return &creds, nil
}

// Client performs authenticated repository calls for one identity. Expired
// access tokens are refreshed transparently once per call.
type Client struct {
	pdsURL     string
	httpClient *http.Client

	mu    sync.RWMutex
	creds Credentials
}

var _ domain.RepoClient = (*Client)(nil)

// NewClient wraps credentials for the PDS at pdsURL.
func NewClient(pdsURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		pdsURL:     strings.TrimRight(pdsURL, "/"),
		httpClient: httpClient,
		creds:      creds,
	}
}

// DID returns the identity the client is bound to.
func (c *Client) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.DID
}

// Handle returns the handle reported at login.
func (c *Client) Handle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Handle
}

// PDS returns the base URL of the identity's data server.
func (c *Client) PDS() string {
	return c.pdsURL
}

func (c *Client) CreateRecord(ctx context.Context, collection string, record any) (*domain.RecordRef, error) {
	body, err := json.Marshal(map[string]any{
		"repo":       c.DID(),
		"collection": collection,
		"record":     record,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	var ref domain.RecordRef
	if err := c.do(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, "application/json", body, &ref); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return &ref, nil
}

func (c *Client) DeleteRecord(ctx context.Context, collection, rkey string) error {
	body, err := json.Marshal(map[string]string{
		"repo":       c.DID(),
		"collection": collection,
		"rkey":       rkey,
	})
	if err != nil {
		return err
	}

	if err := c.do(ctx, http.MethodPost, "com.atproto.repo.deleteRecord", nil, "application/json", body, nil); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*domain.BlobRef, error) {
	var out struct {
		Blob domain.BlobRef `json:"blob"`
	}
	if err := c.do(ctx, http.MethodPost, "com.atproto.repo.uploadBlob", nil, mimeType, data, &out); err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}
	if out.Blob.Ref.Link == "" {
		return nil, domain.ErrInvalidBlob
	}
	return &out.Blob, nil
}

func (c *Client) ListRecords(ctx context.Context, collection string, limit int) ([]*domain.Record, error) {
	query := url.Values{}
	query.Set("repo", c.DID())
	query.Set("collection", collection)
	query.Set("limit", strconv.Itoa(limit))

	var out struct {
		Records []*domain.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "com.atproto.repo.listRecords", query, "", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out.Records, nil
}

func (c *Client) do(ctx context.Context, method, nsid string, query url.Values, contentType string, body []byte, out any) error {
	c.mu.RLock()
	token := c.creds.AccessJWT
	c.mu.RUnlock()

	err := call(ctx, c.httpClient, method, xrpcURL(c.pdsURL, nsid, query), token, contentType, body, out)
	if !IsXRPCError(err, "ExpiredToken") {
		return err
	}

	if rerr := c.refresh(ctx); rerr != nil {
		slog.Warn("failed to refresh session",
			slog.String("did", c.DID()),
			slog.String("error", rerr.Error()))
		return err
	}

	c.mu.RLock()
	token = c.creds.AccessJWT
	c.mu.RUnlock()
	return call(ctx, c.httpClient, method, xrpcURL(c.pdsURL, nsid, query), token, contentType, body, out)
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.RLock()
	refreshJWT := c.creds.RefreshJWT
	c.mu.RUnlock()

	if refreshJWT == "" {
		return errors.New("no refresh token")
	}

	var creds Credentials
	if err := call(ctx, c.httpClient, http.MethodPost, xrpcURL(c.pdsURL, "com.atproto.server.refreshSession", nil),
		refreshJWT, "", nil, &creds); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.AccessJWT = creds.AccessJWT
	if creds.RefreshJWT != "" {
		c.creds.RefreshJWT = creds.RefreshJWT
	}
	if creds.Handle != "" {
		c.creds.Handle = creds.Handle
	}
	return nil
}

func xrpcURL(base, nsid string, query url.Values) string {
	u := strings.TrimRight(base, "/") + "/xrpc/" + nsid
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func call(ctx context.Context, httpClient *http.Client, method, endpoint, token, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xe := &XRPCError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, xe)
		}
		if xe.Name == "" {
			xe.Name = http.StatusText(resp.StatusCode)
		}
		return xe
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
