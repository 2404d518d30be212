package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryClient(baseURL string) *Client {
	return NewClientWithOptions(baseURL, "test-key", ClientOptions{
		RetryConfig: &RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
		},
	})
}

func TestExtractHostPort(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		port     string
	}{
		{"http://localhost:4127", "localhost", "4127"},
		{"https://prizm.example.com:9000", "prizm.example.com", "9000"},
		{"ws://10.0.0.5:4127", "10.0.0.5", "4127"},
		{"http://localhost", "localhost", "4127"},
	}
	for _, tc := range cases {
		host, port := ExtractHostPort(tc.in)
		assert.Equal(t, tc.host, host, tc.in)
		assert.Equal(t, tc.port, port, tc.in)
	}
}

func TestListDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents", r.URL.Path)
		assert.Equal(t, "work", r.URL.Query().Get("scope"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("X-Prizm-Panel"))
		fmt.Fprint(w, `[{"id":"d1","title":"Roadmap","updated_at":"2026-08-01T10:00:00Z"}]`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	docs, err := client.ListDocuments(context.Background(), "work")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "Roadmap", docs[0].Title)
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"document not found"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.GetDocument(context.Background(), "nope", "work")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "document not found", apiErr.Message)
	assert.True(t, apiErr.IsNotFound())
	assert.False(t, apiErr.Retryable)
}

func TestGetRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"documents":2,"notes":1,"todo_items":0,"clipboard":4}`)
	}))
	defer srv.Close()

	client := fastRetryClient(srv.URL)
	counts, err := client.GetMemoryCounts(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Documents)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPostIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"boom"}`)
	}))
	defer srv.Close()

	client := fastRetryClient(srv.URL)
	err := client.StopAgentChat(context.Background(), "s1", "work")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "non-idempotent requests must go out exactly once")
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agent/sessions/s1/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"reasoning\",\"text\":\"thinking\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"text\",\"text\":\"He\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"text\",\"text\":\"llo\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"done\",\"model\":\"prizm-1\",\"usage\":{\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")

	var chunks []StreamChunk
	err := client.StreamChat(context.Background(), "s1", "hi", "work", func(chunk StreamChunk) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, ChunkReasoning, chunks[0].Type)
	assert.Equal(t, "He", chunks[1].Text)
	assert.Equal(t, "llo", chunks[2].Text)
	assert.Equal(t, ChunkDone, chunks[3].Type)
	assert.Equal(t, "prizm-1", chunks[3].Model)
	require.NotNil(t, chunks[3].Usage)
	assert.Equal(t, 7, chunks[3].Usage.TotalTokens)
}

func TestStreamChatCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"text\",\"text\":\"He\"}\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, "test-key")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.StreamChat(ctx, "s1", "hi", "work", func(chunk StreamChunk) {
			if chunk.Text == "He" {
				cancel()
			}
		})
	}()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			fmt.Fprint(w, `{"status":"ok"}`)
		case "/auth/register":
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"client_id":"panel-7","api_key":"pk-secret"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	grant, err := client.Register(context.Background(), "desk-panel", []string{"work"})
	require.NoError(t, err)
	assert.Equal(t, "panel-7", grant.ClientID)
	assert.Equal(t, "pk-secret", grant.APIKey)
}

func TestRegisterFailsOnUnhealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"degraded"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.Register(context.Background(), "desk-panel", nil)
	require.Error(t, err)
}
