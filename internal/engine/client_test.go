package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestClientRecognizeStream(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"page\"},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "sk-test", "ocr-model", 1024, srv.Client(), fastRetry(0), observability.Nop())
	text, err := c.Recognize(t.Context(), []byte{1, 2, 3}, "image/jpeg", "transcribe")
	require.NoError(t, err)
	assert.Equal(t, "Hello page", text)
	assert.Equal(t, "Bearer sk-test", auth)

	assert.Equal(t, "ocr-model", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "data:image/jpeg;base64,AQID", got.Messages[0].Content[0].ImageURL.URL)
	assert.Equal(t, "transcribe", got.Messages[0].Content[1].Text)
}

func TestClientRecognizeJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"whole answer"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 0, srv.Client(), fastRetry(0), observability.Nop())
	text, err := c.Recognize(t.Context(), []byte{1}, "image/jpeg", "p")
	require.NoError(t, err)
	assert.Equal(t, "whole answer", text)
}

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 0, srv.Client(), fastRetry(3), observability.Nop())
	text, err := c.Recognize(t.Context(), []byte{1}, "image/jpeg", "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int64(3), calls.Load())
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 0, srv.Client(), fastRetry(2), observability.Nop())
	_, err := c.Recognize(t.Context(), []byte{1}, "image/jpeg", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int64(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 0, srv.Client(), fastRetry(3), observability.Nop())
	_, err := c.Recognize(t.Context(), []byte{1}, "image/jpeg", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400: invalid model")
	assert.Equal(t, int64(1), calls.Load())
}

func TestStreamParserCollect(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[]}`,
		`data: {"choices":[{"delta":{"content":"b"},"finish_reason":"length"}]}`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	}, "\n")
	text, finish, err := NewStreamParser(strings.NewReader(stream)).Collect()
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, "length", finish)
}

func TestBackoff(t *testing.T) {
	rc := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, rc.backoff(0))
	assert.Equal(t, 4*time.Second, rc.backoff(2))
	assert.Equal(t, 5*time.Second, rc.backoff(5))
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt(domainOpts(true, false, "en"))
	assert.Contains(t, p, "HTML <table>")
	assert.Contains(t, p, "formulas as plain text")
	assert.Contains(t, p, "written in English")
}

func domainOpts(tables, formulas bool, lang string) domain.ExtractOptions {
	o := domain.DefaultExtractOptions()
	o.TableEnable, o.FormulaEnable, o.Lang = tables, formulas, lang
	return o
}
