package websocket

import (
	"friendclub/internal/domain"

	"github.com/goccy/go-json"
)

// Frame types on the viewer channel.
const (
	TypeConnected     = "connected"
	TypeNewMessage    = "new_message"
	TypeDeleteMessage = "delete_message"
	TypeError         = "error"
	TypeChat          = "chat"
)

// ConnectedFrame is the join snapshot.
type ConnectedFrame struct {
	Type     string                `json:"type"`
	Messages []*domain.ChatMessage `json:"messages"`
}

// NewMessageFrame announces a created or replaced message.
type NewMessageFrame struct {
	Type    string              `json:"type"`
	Message *domain.ChatMessage `json:"message"`
}

// DeleteMessageFrame announces a removal.
type DeleteMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// ErrorFrame reports a rejected submission to its sender only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a viewer submission.
type ClientMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Gif        string `json:"gif,omitempty"`
	UserID     string `json:"userId,omitempty"`
	UserHandle string `json:"userHandle,omitempty"`
}

func encodeConnected(messages []*domain.ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}
	return json.Marshal(ConnectedFrame{Type: TypeConnected, Messages: messages})
}

func encodeNewMessage(m *domain.ChatMessage) ([]byte, error) {
	return json.Marshal(NewMessageFrame{Type: TypeNewMessage, Message: m})
}

func encodeDelete(id string) ([]byte, error) {
	return json.Marshal(DeleteMessageFrame{Type: TypeDeleteMessage, MessageID: id})
}

func encodeError(msg string) ([]byte, error) {
	return json.Marshal(ErrorFrame{Type: TypeError, Message: msg})
}
