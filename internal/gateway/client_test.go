package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"council/internal/config"
)

func testClient(url string, timeout time.Duration) *HTTPClient {
	return NewHTTPClient(config.GatewayConfig{
		BaseURL: url,
		Model:   "koboldcpp",
		Timeout: config.Duration(timeout),
	})
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  [CHAT] Hello.  "}}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	resp, err := c.Generate(context.Background(), Request{
		System:      "rules",
		User:        "query",
		MaxTokens:   150,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "[CHAT] Hello." {
		t.Errorf("Text = %q, want trimmed content", resp.Text)
	}

	if got.Model != "koboldcpp" || got.MaxTokens != 150 || got.Temperature != 0.7 {
		t.Errorf("wire request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).Generate(context.Background(), Request{MaxTokens: 150})
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).Generate(context.Background(), Request{MaxTokens: 150})
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 20*time.Millisecond).Generate(context.Background(), Request{MaxTokens: 150})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestGenerateContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := testClient(srv.URL, 5*time.Second).Generate(ctx, Request{MaxTokens: 150})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).Generate(context.Background(), Request{MaxTokens: 150})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want plain request failure", err)
	}
}

func TestGenerateBackendErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"context length exceeded"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 5*time.Second).Generate(context.Background(), Request{MaxTokens: 150})
	if err == nil || !strings.Contains(err.Error(), "context length exceeded") {
		t.Fatalf("err = %v, want backend error message", err)
	}
}

func TestGenerateAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(config.GatewayConfig{BaseURL: srv.URL, Model: "m", APIKey: "sk-test", Timeout: config.Duration(time.Second)})
	if _, err := c.Generate(context.Background(), Request{MaxTokens: 10}); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
}
