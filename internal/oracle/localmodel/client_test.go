package localmodel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/oracle"
)

func testRequest() *oracle.Request {
	return &oracle.Request{
		Connector:  "email",
		Sender:     "alice@example.com",
		Subject:    "weekly digest",
		Content:    "here is your digest",
		BatchTypes: []string{"newsletters", "alerts"},
	}
}

func chatReply(content string) string {
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply(`{"summary":"weekly digest","tags":["newsletter"],"batch_type":"newsletters","priority":"low","confidence":0.85}`)))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "llama3.1:8b")
	res, err := c.Classify(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", gotPath)
	}
	if gotReq.Model != "llama3.1:8b" {
		t.Errorf("model = %q, want llama3.1:8b", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system then user", gotReq.Messages)
	}

	if res.BatchType != "newsletters" || res.Priority != "low" {
		t.Errorf("verdict = %+v, want newsletters/low", res)
	}
	if res.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", res.Confidence)
	}
}

func TestClassify_ServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3.1:8b")
	_, err := c.Classify(context.Background(), testRequest())
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClassify_ConnectionRefusedIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens here anymore

	c := New(srv.URL, "llama3.1:8b")
	_, err := c.Classify(context.Background(), testRequest())
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestClassify_BadRequestIsNotUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "nope")
	_, err := c.Classify(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if errors.Is(err, oracle.ErrUnavailable) {
		t.Error("400 should not map to ErrUnavailable")
	}
}

func TestClassify_MalformedVerdict(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply("I could not classify this event.")))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3.1:8b")
	_, err := c.Classify(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for a reply without JSON")
	}
	if errors.Is(err, oracle.ErrUnavailable) {
		t.Error("a malformed verdict is not an availability failure")
	}
}

func TestClassify_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3.1:8b")
	if _, err := c.Classify(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestParseVerdict_CodeFence(t *testing.T) {
	t.Parallel()

	res, err := parseVerdict("```json\n{\"summary\":\"s\",\"batch_type\":\"alerts\",\"confidence\":0.7}\n```")
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if res.BatchType != "alerts" || res.Confidence != 0.7 {
		t.Errorf("verdict = %+v, want alerts/0.7", res)
	}
}
