package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/dto"
)

// chatHub keeps track of active websocket clients per chat and handles
// broadcasting. Message and typing events share the same delivery path so a
// subscriber observes them in the order the hub saw them.
type chatHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*chatClient]struct{}
	watchers map[string]map[chan dto.ChatMessageResponse]struct{}
	log      zerolog.Logger
}

func newChatHub(logger zerolog.Logger) *chatHub {
	return &chatHub{
		rooms:    make(map[string]map[*chatClient]struct{}),
		watchers: make(map[string]map[chan dto.ChatMessageResponse]struct{}),
		log:      logger.With().Str("component", "chat_hub").Logger(),
	}
}

func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.opts.ChatID
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*chatClient]struct{})
	}
	h.rooms[room][client] = struct{}{}
	h.log.Debug().Str("chat_id", room).Str("user_id", client.opts.UserID).Msg("chat client connected")
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.opts.ChatID
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	h.log.Debug().Str("chat_id", room).Str("user_id", client.opts.UserID).Msg("chat client disconnected")
}

func (h *chatHub) broadcast(chatID string, frame dto.ChatServerFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		select {
		case client.send <- frame:
		default:
			h.log.Warn().Str("chat_id", chatID).Str("user_id", client.opts.UserID).Msg("dropping chat frame for slow client")
		}
	}

	if frame.Event != dto.ChatEventMessage || frame.Message == nil {
		return
	}
	for watcher := range h.watchers[chatID] {
		select {
		case watcher <- *frame.Message:
		default:
			h.log.Debug().Str("chat_id", chatID).Msg("dropping chat message for slow watcher")
		}
	}
}

// watch registers a passive message observer on the chat. Watchers receive
// message events only, never typing frames, and have no input path.
func (h *chatHub) watch(chatID string) (<-chan dto.ChatMessageResponse, func()) {
	ch := make(chan dto.ChatMessageResponse, chatSendBufferSize)

	h.mu.Lock()
	if _, exists := h.watchers[chatID]; !exists {
		h.watchers[chatID] = make(map[chan dto.ChatMessageResponse]struct{})
	}
	h.watchers[chatID][ch] = struct{}{}
	h.mu.Unlock()

	cleanup := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.watchers[chatID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.watchers, chatID)
			}
		}
	}

	return ch, cleanup
}

// viewing reports whether the user has at least one live subscription to
// the chat. The notification dispatcher skips recipients who are already
// watching the conversation.
func (h *chatHub) viewing(chatID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		if client.opts.UserID == userID {
			return true
		}
	}
	return false
}
