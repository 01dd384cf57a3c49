package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteParsesResponse(t *testing.T) {
	var gotAuth string
	var gotReq request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		fmt.Fprint(w, `{
			"model": "deepseek-chat",
			"choices": [{"message": {"role": "assistant", "content": "Bonjour!"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 42}
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	got, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer k" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "deepseek-chat" {
		t.Errorf("expected default model, got %q", gotReq.Model)
	}
	if gotReq.Stream {
		t.Error("expected non-streaming request")
	}
	if got.Content != "Bonjour!" {
		t.Errorf("expected content 'Bonjour!', got %q", got.Content)
	}
	if got.TokensUsed != 42 {
		t.Errorf("expected 42 tokens, got %d", got.TokensUsed)
	}
	if got.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", got.FinishReason)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "bad"})
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status code in error, got %v", err)
	}
}

func TestStreamAccumulatesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected streaming request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Bon", "jour", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})

	var deltas []string
	full, err := client.Stream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if full != "Bonjour!" {
		t.Errorf("expected accumulated content 'Bonjour!', got %q", full)
	}
	if len(deltas) != 3 {
		t.Errorf("expected 3 deltas, got %d: %v", len(deltas), deltas)
	}
}

func TestStreamStopsWhenDeltaCallbackFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})

	calls := 0
	_, err := client.Stream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{}, func(d string) error {
		calls++
		if calls == 2 {
			return fmt.Errorf("downstream gone")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected error when the delta callback fails")
	}
	if calls != 2 {
		t.Errorf("expected stream abandoned after 2 calls, got %d", calls)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestSystemPromptNamesLanguage(t *testing.T) {
	if !strings.Contains(SystemPrompt(""), "English") {
		t.Error("expected default prompt to name English")
	}
	if !strings.Contains(SystemPrompt("Spanish"), "Spanish") {
		t.Error("expected prompt to name the target language")
	}
}
