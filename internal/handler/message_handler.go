package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/middleware"
	"friendclub/internal/service"

	"github.com/go-chi/chi/v5"
)

// FeedSize is the number of messages returned by the feed endpoint.
const FeedSize = 20

// Feed is the read side of the recent-messages cache.
type Feed interface {
	Recent(ctx context.Context, limit int) ([]*domain.ChatMessage, error)
	All(ctx context.Context) ([]*domain.ChatMessage, error)
}

// MessageHandler serves the feed and the interactive posting endpoints.
type MessageHandler struct {
	feed  Feed
	posts *service.PostService
	now   func() time.Time
}

func NewMessageHandler(feed Feed, posts *service.PostService) *MessageHandler {
	return &MessageHandler{
		feed:  feed,
		posts: posts,
		now:   time.Now,
	}
}

// PostMessageRequest is the body of POST /api/message.
type PostMessageRequest struct {
	Text       string  `json:"text"`
	GifDataURL string  `json:"gifDataUrl"`
	PostToBsky bool    `json:"postToBsky"`
	ExpiresIn  *string `json:"expiresIn"`
}

// ExportResponse is the body of GET /api/messages/export.
type ExportResponse struct {
	ExportedAt    string                `json:"exportedAt"`
	TotalMessages int                   `json:"totalMessages"`
	Messages      []*domain.ChatMessage `json:"messages"`
}

// Feed returns the live recent messages, oldest first.
func (h *MessageHandler) Feed(w http.ResponseWriter, r *http.Request) {
	messages, err := h.feed.Recent(r.Context(), FeedSize)
	if err != nil {
		slog.Error("failed to load feed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to load feed")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Export dumps every cached message, expired ones included.
func (h *MessageHandler) Export(w http.ResponseWriter, r *http.Request) {
	messages, err := h.feed.All(r.Context())
	if err != nil {
		slog.Error("failed to export messages", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to export messages")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	writeJSON(w, http.StatusOK, ExportResponse{
		ExportedAt:    h.now().UTC().Format(time.RFC3339),
		TotalMessages: len(messages),
		Messages:      messages,
	})
}

// Post writes a message to the caller's repository.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	in := service.PostRequest{
		Text:         req.Text,
		MediaDataURL: req.GifDataURL,
		CrossPost:    req.PostToBsky,
	}
	if req.ExpiresIn != nil {
		in.ExpiresIn = *req.ExpiresIn
	}

	result, err := h.posts.Post(r.Context(), session.ID, in)
	if err != nil {
		if !service.IsClientError(err) {
			slog.Error("failed to post message",
				slog.String("did", session.DID),
				slog.String("error", err.Error()))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Delete removes one of the caller's records.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	rkey := chi.URLParam(r, "rkey")
	if err := h.posts.Delete(r.Context(), session.ID, rkey); err != nil {
		if !service.IsClientError(err) {
			slog.Error("failed to delete message",
				slog.String("did", session.DID),
				slog.String("rkey", rkey),
				slog.String("error", err.Error()))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// MyPosts lists the caller's own records.
func (h *MessageHandler) MyPosts(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	posts, err := h.posts.MyPosts(r.Context(), session.ID)
	if err != nil {
		slog.Error("failed to list posts",
			slog.String("did", session.DID),
			slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}
