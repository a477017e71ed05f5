package dto

import (
	"time"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

// Websocket frame actions accepted on a chat connection.
const (
	ChatActionSend   = "send"
	ChatActionTyping = "typing"
	ChatActionRead   = "read"
)

// Websocket event kinds emitted to chat subscribers.
const (
	ChatEventMessage = "message"
	ChatEventTyping  = "typing"
	ChatEventError   = "error"
)

// ChatClientFrame is the payload clients write on a chat websocket.
type ChatClientFrame struct {
	Action string `json:"action" validate:"required,oneof=send typing read"`
	Body   string `json:"body" validate:"omitempty,max=4000"`
	Typing bool   `json:"typing"`
}

// ChatServerFrame is the envelope delivered to chat websocket subscribers.
// Exactly one of Message or Typing is set, selected by Event.
type ChatServerFrame struct {
	Event   string               `json:"event"`
	Message *ChatMessageResponse `json:"message,omitempty"`
	Typing  *TypingEvent         `json:"typing,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// SendMessageInput is the validated input for appending to a chat log.
type SendMessageInput struct {
	ChatID     string `json:"chat_id" validate:"required,min=2,max=160"`
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	SenderName string `json:"sender_name" validate:"required,max=255"`
	SenderRole string `json:"sender_role" validate:"omitempty,oneof=admin staff"`
	Body       string `json:"body" validate:"required,min=1,max=4000"`
}

// ChatHistoryQuery filters a chat history request.
type ChatHistoryQuery struct {
	ChatID string `query:"chat_id" validate:"required,min=2,max=160"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// DirectChatRequest asks for the direct conversation with another user.
type DirectChatRequest struct {
	PeerID string `json:"peer_id" validate:"required,max=64"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID         uint      `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SenderRole string    `json:"sender_role,omitempty"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
	SentAtMs   int64     `json:"sent_at_ms"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		ChatID:     message.ChatID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		SenderRole: message.SenderRole,
		Body:       message.Body,
		SentAt:     message.CreatedAt,
		SentAtMs:   message.CreatedAt.UnixMilli(),
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// ChatResponse describes a conversation for the directory list. Name is
// resolved per viewer: direct chats are labelled with the other
// participant's stored name.
type ChatResponse struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Name              string    `json:"name"`
	ParticipantIDs    []string  `json:"participant_ids,omitempty"`
	ParticipantCount  int       `json:"participant_count"`
	LastMessageBody   string    `json:"last_message_body,omitempty"`
	LastMessageSender string    `json:"last_message_sender,omitempty"`
	LastMessageAt     time.Time `json:"last_message_at"`
	LastMessageAtMs   int64     `json:"last_message_at_ms"`
}

// NewChatResponse converts a chat model into a DTO from one viewer's
// perspective. An empty viewerID yields the unresolved (admin) view.
func NewChatResponse(chat models.Chat, viewerID string) ChatResponse {
	participants := chat.Participants()
	name := chat.Name
	if viewerID != "" {
		name = chat.DisplayNameFor(viewerID)
	} else if chat.Type == models.ChatTypeDirect {
		// The unresolved view still needs a readable label.
		name = chat.ParticipantLabel()
	}

	response := ChatResponse{
		ID:                chat.ID,
		Type:              chat.Type,
		Name:              name,
		ParticipantIDs:    participants,
		ParticipantCount:  len(participants),
		LastMessageBody:   chat.LastMessageBody,
		LastMessageSender: chat.LastMessageSender,
		LastMessageAt:     chat.LastMessageAt,
	}
	if !chat.LastMessageAt.IsZero() {
		response.LastMessageAtMs = chat.LastMessageAt.UnixMilli()
	}
	return response
}

// NewChatResponseSlice converts chats into DTOs for one viewer.
func NewChatResponseSlice(chats []models.Chat, viewerID string) []ChatResponse {
	out := make([]ChatResponse, 0, len(chats))
	for _, chat := range chats {
		out = append(out, NewChatResponse(chat, viewerID))
	}
	return out
}

// TypingEvent is the live typing signal delivered to chat subscribers.
type TypingEvent struct {
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name,omitempty"`
	Typing   bool      `json:"typing"`
	At       time.Time `json:"at"`
}
