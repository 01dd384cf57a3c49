package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/parla/chat-backend/internal/ai"
	"github.com/parla/chat-backend/internal/notify"
)

// historyContextLimit is the number of prior messages included as prompt
// context for the completion call.
const historyContextLimit = 10

// Completer is the slice of the AI client the chat service needs. Satisfied
// by *ai.Client; tests substitute a stub.
type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, opts ai.Options) (*ai.Completion, error)
	Stream(ctx context.Context, messages []ai.ChatMessage, opts ai.Options, onDelta func(delta string) error) (string, error)
}

// Publisher is the slice of the notification bus the chat service needs.
type Publisher interface {
	Publish(typ notify.EventType, payload map[string]any, recipient, conversationID string) (*notify.Event, error)
}

// Service orchestrates the send flow: persist the user's message, assemble
// the prompt, obtain the AI reply, persist it, and notify the sender.
type Service struct {
	store     *Store
	completer Completer
	bus       Publisher
}

// NewService wires the chat service to its collaborators.
func NewService(store *Store, completer Completer, bus Publisher) *Service {
	return &Service{store: store, completer: completer, bus: bus}
}

// SendRequest is one user turn submitted to the send flow.
type SendRequest struct {
	UserID         string
	Email          string
	Anonymous      bool
	Content        string
	ConversationID string // empty starts a new conversation
	Model          string
	Temperature    float64
	MaxTokens      int
}

// SendResult describes a completed send flow.
type SendResult struct {
	Reply              string `json:"message"`
	ConversationID     string `json:"conversation_id"`
	UserMessageID      int64  `json:"user_message_id"`
	AssistantMessageID int64  `json:"assistant_message_id"`
	Model              string `json:"model_used"`
	TokensUsed         int    `json:"tokens_used,omitempty"`
}

// prepare validates the request, resolves the conversation ID, persists the
// user's message, and returns the prompt for the completion call.
func (s *Service) prepare(ctx context.Context, req *SendRequest) (*Message, []ai.ChatMessage, error) {
	if err := ValidateContent(req.Content); err != nil {
		return nil, nil, fmt.Errorf("chat: %w", err)
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	if err := s.store.EnsureUser(ctx, req.UserID, req.Email, req.Anonymous); err != nil {
		return nil, nil, err
	}

	// Read the prior context before persisting the new turn so the prompt
	// does not contain the user's message twice.
	history, err := s.store.ConversationHistory(ctx, req.UserID, req.ConversationID, historyContextLimit)
	if err != nil {
		return nil, nil, err
	}

	userMsg, err := s.store.CreateMessage(ctx, req.UserID, RoleUser, req.Content, req.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	prompt := make([]ai.ChatMessage, 0, len(history)+2)
	if len(history) == 0 {
		prompt = append(prompt, ai.ChatMessage{Role: string(RoleSystem), Content: ai.SystemPrompt("")})
	}
	for _, m := range history {
		prompt = append(prompt, ai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	prompt = append(prompt, ai.ChatMessage{Role: string(RoleUser), Content: req.Content})

	return userMsg, prompt, nil
}

// Send runs the full non-streaming send flow and returns the assistant reply.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	userMsg, prompt, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	completion, err := s.completer.Complete(ctx, prompt, ai.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: completion: %w", err)
	}

	assistantMsg, err := s.store.CreateMessage(ctx, req.UserID, RoleAssistant, completion.Content, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// Notify the sender's live connections. Delivery faults never surface
	// to the HTTP caller; an invalid type here is a programming error.
	_, err = s.bus.Publish(notify.TypeMessageReceived, map[string]any{
		"message_id":      assistantMsg.ID,
		"conversation_id": req.ConversationID,
		"preview":         preview(completion.Content),
	}, req.UserID, req.ConversationID)
	if err != nil {
		log.Printf("chat: publish notification failed: %v", err)
	}

	return &SendResult{
		Reply:              completion.Content,
		ConversationID:     req.ConversationID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Model:              completion.Model,
		TokensUsed:         completion.TokensUsed,
	}, nil
}

// SendStream runs the streaming send flow, invoking onDelta for each reply
// fragment. The full reply is persisted once the stream completes.
func (s *Service) SendStream(ctx context.Context, req SendRequest, onDelta func(delta string) error) (*SendResult, error) {
	userMsg, prompt, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	full, err := s.completer.Stream(ctx, prompt, ai.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, onDelta)
	if err != nil {
		return nil, fmt.Errorf("chat: stream completion: %w", err)
	}

	assistantMsg, err := s.store.CreateMessage(ctx, req.UserID, RoleAssistant, full, req.ConversationID)
	if err != nil {
		return nil, err
	}

	return &SendResult{
		Reply:              full,
		ConversationID:     req.ConversationID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Model:              req.Model,
	}, nil
}

// History returns the last limit messages of a conversation, oldest first.
func (s *Service) History(ctx context.Context, userID, conversationID string, limit int) ([]Message, error) {
	return s.store.ConversationHistory(ctx, userID, conversationID, limit)
}

// Conversations lists the user's conversations, most recently active first.
func (s *Service) Conversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID, limit)
}

// DeleteConversation removes a conversation. Returns false when it does not
// exist. A successful delete publishes a conversation_updated notification.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) (bool, error) {
	deleted, err := s.store.DeleteConversation(ctx, userID, conversationID)
	if err != nil || !deleted {
		return deleted, err
	}

	if _, err := s.bus.Publish(notify.TypeConversationUpdated, map[string]any{
		"conversation_id": conversationID,
		"deleted":         true,
	}, userID, conversationID); err != nil {
		log.Printf("chat: publish delete notification failed: %v", err)
	}
	return true, nil
}

// preview truncates reply text for notification payloads.
func preview(text string) string {
	const max = 120
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
