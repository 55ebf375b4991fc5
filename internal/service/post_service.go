package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"friendclub/internal/domain"
	"friendclub/internal/ingest"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	// MaxTextLength is the longest message body accepted, in characters.
	MaxTextLength = 1000
	// PostInterval is the minimum spacing between one identity's posts.
	PostInterval = time.Minute
	// MyPostsLimit caps the records returned by MyPosts.
	MyPostsLimit = 100

	crossPostCollection = "app.bsky.feed.post"
	crossPostSuffix     = "\n\nvia friend club: "
)

type PostCache interface {
	Get(ctx context.Context, id string) (*domain.ChatMessage, error)
	Upsert(ctx context.Context, message *domain.ChatMessage) error
	Delete(ctx context.Context, id string) error
}

type PostBroadcaster interface {
	BroadcastCreate(message *domain.ChatMessage)
	BroadcastDelete(id string)
}

// PostRequest is an interactive post.
type PostRequest struct {
	Text         string
	MediaDataURL string
	CrossPost    bool
	ExpiresIn    string
}

// PostResult describes the written record.
type PostResult struct {
	URI          string              `json:"uri"`
	RKey         string              `json:"rkey"`
	CrossPostURI string              `json:"blueskyPostUri,omitempty"`
	CrossPostURL string              `json:"blueskyPostUrl,omitempty"`
	Message      *domain.ChatMessage `json:"message"`
}

// Post is one of the caller's own records.
type Post struct {
	URI            string          `json:"uri"`
	RKey           string          `json:"rkey"`
	Text           string          `json:"text"`
	Video          *domain.BlobRef `json:"video,omitempty"`
	BlueskyPostURI string          `json:"blueskyPostUri,omitempty"`
	ExpiresAt      string          `json:"expiresAt,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
}

type pdsProvider interface {
	PDS() string
}

// PostService writes messages to the caller's repository and mirrors them
// into the cache without waiting for the stream to echo them back.
type PostService struct {
	sessions   domain.SessionRepository
	cache      PostCache
	fanout     PostBroadcaster
	transcoder Transcoder
	collection string
	siteURL    string
	interval   time.Duration
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type PostOption func(*PostService)

func WithTranscoder(t Transcoder) PostOption {
	return func(s *PostService) {
		s.transcoder = t
	}
}

func WithPostClock(now func() time.Time) PostOption {
	return func(s *PostService) {
		s.now = now
	}
}

// WithPostInterval overrides the per-identity spacing; zero disables it.
func WithPostInterval(d time.Duration) PostOption {
	return func(s *PostService) {
		s.interval = d
	}
}

func NewPostService(sessions domain.SessionRepository, cache PostCache, fanout PostBroadcaster, collection, siteURL string, opts ...PostOption) *PostService {
	s := &PostService{
		sessions:   sessions,
		cache:      cache,
		fanout:     fanout,
		transcoder: NewFFmpegTranscoder(),
		collection: collection,
		siteURL:    strings.TrimRight(siteURL, "/"),
		interval:   PostInterval,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostService) Post(ctx context.Context, sessionID string, req PostRequest) (*PostResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Text)
	if text == "" && req.MediaDataURL == "" {
		return nil, fmt.Errorf("%w: message needs text or media", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, fmt.Errorf("%w: message too long", domain.ErrInvalidInput)
	}
	lifetime, err := ParseExpiration(req.ExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown expiration %q", err, req.ExpiresIn)
	}

	now := s.now()
	reservation := s.reserve(sess.DID, now)
	if reservation != nil && reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		return nil, domain.ErrRateLimited
	}

	result, err := s.post(ctx, sess, text, req, lifetime, now)
	if err != nil {
		if reservation != nil {
			reservation.CancelAt(now)
		}
		return nil, err
	}
	return result, nil
}

func (s *PostService) post(ctx context.Context, sess *domain.Session, text string, req PostRequest, lifetime time.Duration, now time.Time) (*PostResult, error) {
	client := sess.Client

	var blob *domain.BlobRef
	if req.MediaDataURL != "" {
		data, mimeType, err := DecodeDataURL(req.MediaDataURL)
		if err != nil {
			return nil, err
		}
		if s.transcoder != nil {
			data, mimeType, err = s.transcoder.Transcode(ctx, data, mimeType)
			if err != nil {
				return nil, err
			}
		}
		blob, err = client.UploadBlob(ctx, data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("failed to upload media: %w", err)
		}
		slog.Info("uploaded media blob",
			slog.String("did", sess.DID),
			slog.String("mime_type", mimeType),
			slog.Int("size", len(data)))
	}

	record := &domain.MessageRecord{
		Type:      s.collection,
		Text:      &text,
		Video:     blob,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if lifetime > 0 {
		record.ExpiresAt = now.Add(lifetime).UTC().Format(time.RFC3339Nano)
	}

	result := &PostResult{}
	if req.CrossPost {
		ref, err := client.CreateRecord(ctx, crossPostCollection, s.crossPost(text, blob, now))
		if err != nil {
			// the chat message still goes out without it
			slog.Warn("failed to cross-post",
				slog.String("did", sess.DID),
				slog.String("error", err.Error()))
		} else {
			record.BlueskyPostURI = ref.URI
			result.CrossPostURI = ref.URI
			result.CrossPostURL = fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handleOrDID(sess), ref.RKey())
		}
	}

	ref, err := client.CreateRecord(ctx, s.collection, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	result.URI = ref.URI
	result.RKey = ref.RKey()

	message := &domain.ChatMessage{
		ID:           result.RKey,
		Text:         text,
		AuthorID:     sess.DID,
		AuthorHandle: sess.Handle,
		CreatedAt:    now.UnixMilli(),
		CrossPostRef: record.BlueskyPostURI,
	}
	if lifetime > 0 {
		message.ExpiresAt = now.Add(lifetime).UnixMilli()
	}
	if blob != nil {
		if p, ok := client.(pdsProvider); ok {
			message.MediaURL = ingest.BlobURL(p.PDS(), sess.DID, blob.Ref.Link)
		}
	}
	result.Message = message

	if err := s.cache.Upsert(ctx, message); err != nil {
		// the stream will deliver it anyway
		slog.Error("failed to cache posted message",
			slog.String("id", message.ID),
			slog.String("error", err.Error()))
	} else {
		s.fanout.BroadcastCreate(message)
	}

	slog.Info("posted message",
		slog.String("did", sess.DID),
		slog.String("rkey", result.RKey),
		slog.Bool("cross_post", result.CrossPostURI != ""))
	return result, nil
}

type facetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri"`
}

type facet struct {
	Index    facetIndex     `json:"index"`
	Features []facetFeature `json:"features"`
}

type aspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type videoEmbed struct {
	Type        string          `json:"$type"`
	Video       *domain.BlobRef `json:"video"`
	AspectRatio aspectRatio     `json:"aspectRatio"`
}

type feedPost struct {
	Type      string      `json:"$type"`
	Text      string      `json:"text"`
	CreatedAt string      `json:"createdAt"`
	Langs     []string    `json:"langs"`
	Facets    []facet     `json:"facets,omitempty"`
	Embed     *videoEmbed `json:"embed,omitempty"`
}

// crossPost builds the public feed post that links back to the site.
func (s *PostService) crossPost(text string, blob *domain.BlobRef, now time.Time) *feedPost {
	prefix := text + crossPostSuffix
	full := prefix + s.siteURL

	post := &feedPost{
		Type:      crossPostCollection,
		Text:      full,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Langs:     []string{"en"},
		Facets: []facet{{
			Index: facetIndex{ByteStart: len(prefix), ByteEnd: len(full)},
			Features: []facetFeature{{
				Type: "app.bsky.richtext.facet#link",
				URI:  s.siteURL,
			}},
		}},
	}
	if blob != nil {
		post.Embed = &videoEmbed{
			Type:        "app.bsky.embed.video",
			Video:       blob,
			AspectRatio: aspectRatio{Width: 640, Height: 480},
		}
	}
	return post
}

// reserve takes the caller's posting slot. It returns nil when throttling
// is disabled.
func (s *PostService) reserve(did string, now time.Time) *rate.Reservation {
	if s.interval <= 0 {
		return nil
	}
	s.mu.Lock()
	lim, ok := s.limiters[did]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[did] = lim
	}
	s.mu.Unlock()
	return lim.ReserveN(now, 1)
}

// Delete removes one of the caller's records and evicts it locally.
func (s *PostService) Delete(ctx context.Context, sessionID, rkey string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	rkey = strings.TrimSpace(rkey)
	if rkey == "" || strings.Contains(rkey, "/") {
		return fmt.Errorf("%w: invalid record key", domain.ErrInvalidInput)
	}

	if err := sess.Client.DeleteRecord(ctx, s.collection, rkey); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	// record keys are only unique per repository; leave another author's
	// entry alone
	cached, err := s.cache.Get(ctx, rkey)
	switch {
	case err == nil && cached.AuthorID != sess.DID:
		slog.Warn("not evicting message owned by another author",
			slog.String("did", sess.DID),
			slog.String("owner", cached.AuthorID),
			slog.String("rkey", rkey))
		return nil
	case err != nil && !errors.Is(err, domain.ErrMessageNotFound):
		slog.Error("failed to look up deleted message",
			slog.String("id", rkey),
			slog.String("error", err.Error()))
	}

	if err := s.cache.Delete(ctx, rkey); err != nil {
		slog.Error("failed to evict deleted message",
			slog.String("id", rkey),
			slog.String("error", err.Error()))
	}
	s.fanout.BroadcastDelete(rkey)

	slog.Info("deleted message",
		slog.String("did", sess.DID),
		slog.String("rkey", rkey))
	return nil
}

// MyPosts lists the caller's own records in the watched collection.
func (s *PostService) MyPosts(ctx context.Context, sessionID string) ([]*Post, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	records, err := sess.Client.ListRecords(ctx, s.collection, MyPostsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	posts := make([]*Post, 0, len(records))
	for _, rec := range records {
		var value domain.MessageRecord
		if err := json.Unmarshal(rec.Value, &value); err != nil {
			slog.Debug("skipping unreadable record",
				slog.String("uri", rec.URI),
				slog.String("error", err.Error()))
			continue
		}
		p := &Post{
			URI:            rec.URI,
			RKey:           domain.RKeyFromURI(rec.URI),
			Video:          value.Video,
			BlueskyPostURI: value.BlueskyPostURI,
			ExpiresAt:      value.ExpiresAt,
			CreatedAt:      value.CreatedAt,
		}
		if value.Text != nil {
			p.Text = *value.Text
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func handleOrDID(sess *domain.Session) string {
	if sess.Handle != "" {
		return sess.Handle
	}
	return sess.DID
}

// IsClientError reports whether err stems from the caller's input rather
// than a remote or internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrRateLimited)
}
