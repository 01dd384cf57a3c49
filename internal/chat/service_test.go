package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/parla/chat-backend/internal/ai"
	"github.com/parla/chat-backend/internal/notify"
)

// stubCompleter returns a canned reply and records the prompt it was given.
type stubCompleter struct {
	reply  string
	err    error
	prompt []ai.ChatMessage
}

func (c *stubCompleter) Complete(_ context.Context, messages []ai.ChatMessage, _ ai.Options) (*ai.Completion, error) {
	c.prompt = messages
	if c.err != nil {
		return nil, c.err
	}
	return &ai.Completion{Content: c.reply, Model: "test-model", TokensUsed: 5}, nil
}

func (c *stubCompleter) Stream(_ context.Context, messages []ai.ChatMessage, _ ai.Options, onDelta func(string) error) (string, error) {
	c.prompt = messages
	if c.err != nil {
		return "", c.err
	}
	for _, d := range []string{c.reply[:len(c.reply)/2], c.reply[len(c.reply)/2:]} {
		if err := onDelta(d); err != nil {
			return "", err
		}
	}
	return c.reply, nil
}

// recordingBus captures published events.
type recordingBus struct {
	published []publishedEvent
}

type publishedEvent struct {
	typ       notify.EventType
	payload   map[string]any
	recipient string
}

func (b *recordingBus) Publish(typ notify.EventType, payload map[string]any, recipient, conversationID string) (*notify.Event, error) {
	b.published = append(b.published, publishedEvent{typ, payload, recipient})
	return &notify.Event{}, nil
}

// expectSendFlow arms the mock with the three statements prepare() issues for
// a fresh conversation, plus the assistant message insert.
func expectSendFlow(mock sqlmock.Sqlmock, userID string) {
	now := time.Now()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(userID, "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, user_id, role, content, conversation_id, created_at").
		WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery("INSERT INTO chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	mock.ExpectQuery("INSERT INTO chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), now))
}

func TestSendPersistsBothTurnsAndNotifies(t *testing.T) {
	db, mock := newMockDB(t)
	completer := &stubCompleter{reply: "¡Hola! ¿Cómo estás?"}
	bus := &recordingBus{}
	svc := NewService(NewStore(db), completer, bus)

	expectSendFlow(mock, "u1")

	result, err := svc.Send(context.Background(), SendRequest{
		UserID: "u1", Anonymous: true, Content: "hola",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if result.Reply != completer.reply {
		t.Errorf("expected reply %q, got %q", completer.reply, result.Reply)
	}
	if result.UserMessageID != 1 || result.AssistantMessageID != 2 {
		t.Errorf("unexpected message ids: %+v", result)
	}
	if result.ConversationID == "" {
		t.Error("expected a conversation id to be minted")
	}

	// A fresh conversation gets the system prompt, then the user turn.
	if len(completer.prompt) != 2 {
		t.Fatalf("expected 2 prompt messages, got %d", len(completer.prompt))
	}
	if completer.prompt[0].Role != "system" {
		t.Errorf("expected system prompt first, got role %q", completer.prompt[0].Role)
	}
	if completer.prompt[1].Content != "hola" {
		t.Errorf("expected user turn last, got %q", completer.prompt[1].Content)
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(bus.published))
	}
	ev := bus.published[0]
	if ev.typ != notify.TypeMessageReceived {
		t.Errorf("expected message_received, got %v", ev.typ)
	}
	if ev.recipient != "u1" {
		t.Errorf("expected notification targeted at u1, got %q", ev.recipient)
	}
	if ev.payload["message_id"] != int64(2) {
		t.Errorf("expected assistant message id in payload, got %v", ev.payload["message_id"])
	}
}

func TestSendExistingConversationSkipsSystemPrompt(t *testing.T) {
	db, mock := newMockDB(t)
	completer := &stubCompleter{reply: "sure"}
	svc := NewService(NewStore(db), completer, &recordingBus{})

	now := time.Now()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, user_id, role, content, conversation_id, created_at").
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(int64(1), "u1", "user", "hi", "c1", now.Add(-time.Minute)).
			AddRow(int64(2), "u1", "assistant", "hello", "c1", now))
	mock.ExpectQuery("INSERT INTO chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))
	mock.ExpectQuery("INSERT INTO chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), now))

	if _, err := svc.Send(context.Background(), SendRequest{
		UserID: "u1", Anonymous: true, Content: "and now?", ConversationID: "c1",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// history (2) + new user turn, no system prompt.
	if len(completer.prompt) != 3 {
		t.Fatalf("expected 3 prompt messages, got %d", len(completer.prompt))
	}
	for _, m := range completer.prompt {
		if m.Role == "system" {
			t.Error("expected no system prompt on an existing conversation")
		}
	}
	if completer.prompt[2].Content != "and now?" {
		t.Errorf("expected new turn last, got %q", completer.prompt[2].Content)
	}
}

func TestSendRejectsInvalidContentBeforeAnyQuery(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewService(NewStore(db), &stubCompleter{reply: "x"}, &recordingBus{})

	if _, err := svc.Send(context.Background(), SendRequest{UserID: "u1", Content: ""}); err == nil {
		t.Fatal("expected validation error for empty content")
	}
}

func TestSendSurfacesCompleterFailure(t *testing.T) {
	db, mock := newMockDB(t)
	completer := &stubCompleter{err: fmt.Errorf("upstream 503")}
	bus := &recordingBus{}
	svc := NewService(NewStore(db), completer, bus)

	now := time.Now()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, user_id, role, content, conversation_id, created_at").
		WillReturnRows(sqlmock.NewRows(messageColumns))
	mock.ExpectQuery("INSERT INTO chat_messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))

	if _, err := svc.Send(context.Background(), SendRequest{
		UserID: "u1", Anonymous: true, Content: "hola",
	}); err == nil {
		t.Fatal("expected completion failure to surface")
	}
	if len(bus.published) != 0 {
		t.Errorf("expected no notification on failure, got %d", len(bus.published))
	}
}

func TestSendStreamDeliversDeltasAndPersistsFullReply(t *testing.T) {
	db, mock := newMockDB(t)
	completer := &stubCompleter{reply: "streamed"}
	svc := NewService(NewStore(db), completer, &recordingBus{})

	expectSendFlow(mock, "u1")

	var deltas []string
	result, err := svc.SendStream(context.Background(), SendRequest{
		UserID: "u1", Anonymous: true, Content: "hola",
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("SendStream: %v", err)
	}

	if result.Reply != "streamed" {
		t.Errorf("expected full reply 'streamed', got %q", result.Reply)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %d", len(deltas))
	}
}

func TestDeleteConversationNotifiesOnlyWhenDeleted(t *testing.T) {
	db, mock := newMockDB(t)
	bus := &recordingBus{}
	svc := NewService(NewStore(db), &stubCompleter{reply: "x"}, bus)

	mock.ExpectExec("DELETE FROM chat_messages").
		WithArgs("u1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM chat_messages").
		WithArgs("u1", "c-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := svc.DeleteConversation(context.Background(), "u1", "c1")
	if err != nil || !deleted {
		t.Fatalf("DeleteConversation: deleted=%v err=%v", deleted, err)
	}
	if len(bus.published) != 1 || bus.published[0].typ != notify.TypeConversationUpdated {
		t.Fatalf("expected one conversation_updated event, got %+v", bus.published)
	}

	deleted, err = svc.DeleteConversation(context.Background(), "u1", "c-missing")
	if err != nil || deleted {
		t.Fatalf("expected deleted=false without error, got deleted=%v err=%v", deleted, err)
	}
	if len(bus.published) != 1 {
		t.Errorf("expected no event for missing conversation, got %d", len(bus.published))
	}
}
