package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllama_Stream(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"message":{"role":"assistant","content":"- Pod"},"done":false}`,
			`{"message":{"role":"assistant","content":"cast"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	o := NewOllama(Options{Host: srv.URL})
	chunks, err := o.Stream(context.Background(), Request{
		Model:  "llama3",
		System: "You are Alice.",
		Messages: []Message{
			{Role: RoleUser, Content: "Bob: any ideas?"},
		},
	})
	require.NoError(t, err)

	text, calls, err := Collect(context.Background(), chunks)
	require.NoError(t, err)
	require.Equal(t, "- Podcast", text)
	require.Empty(t, calls)

	require.Equal(t, "llama3", gotReq.Model)
	require.True(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2, "system prompt becomes the leading message")
	require.Equal(t, RoleSystem, gotReq.Messages[0].Role)
	require.Equal(t, "You are Alice.", gotReq.Messages[0].Content)
}

func TestOllama_StreamErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not found"}` + "\n"))
	}))
	defer srv.Close()

	o := NewOllama(Options{Host: srv.URL})
	chunks, err := o.Stream(context.Background(), Request{Model: "missing"})
	require.NoError(t, err)

	_, _, err = Collect(context.Background(), chunks)
	require.ErrorContains(t, err, "model not found")
}

func TestOllama_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "server on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllama(Options{Host: srv.URL})
	_, err := o.Stream(context.Background(), Request{Model: "llama3"})
	require.ErrorContains(t, err, "status 500")
}

func TestOllama_ToolChoiceNoneSuppressesTools(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	o := NewOllama(Options{Host: srv.URL})
	chunks, err := o.Stream(context.Background(), Request{
		Model:      "llama3",
		Tools:      []string{"web_search"},
		ToolChoice: "none",
	})
	require.NoError(t, err)
	_, _, err = Collect(context.Background(), chunks)
	require.NoError(t, err)
	require.Empty(t, gotReq.Tools)
}
