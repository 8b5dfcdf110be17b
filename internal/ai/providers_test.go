package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/branchchat/internal/common"
)

func drain(t *testing.T, chunks <-chan Chunk, errs <-chan error) (string, []Source, error) {
	t.Helper()
	var b strings.Builder
	var sources []Source
	for c := range chunks {
		b.WriteString(c.Text)
		sources = append(sources, c.Sources...)
	}
	return b.String(), sources, <-errs
}

func TestOllama_StreamChatConcatenatesChunks(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		for _, part := range []string{"Hi", "there"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3")
	text, _, err := drain(t, p.StreamChat(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "Hello"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Hithere", text)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "Hello", got.Messages[1].Content)
}

func TestOllama_ChatSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "nope").Chat(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenRouter_StreamChatParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "branchchat", r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, ": keepalive")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"one "}}]}`)
		fmt.Fprintln(w, `data: {"choices":[]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"two"}}]}`)
		fmt.Fprintln(w, "data: [DONE]")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "sk-test", "deepseek/x", "", "branchchat")
	text, _, err := drain(t, p.StreamChat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "q"}}}))
	require.NoError(t, err)
	assert.Equal(t, "one two", text)
}

func TestOpenRouter_RequiresKey(t *testing.T) {
	p := NewOpenRouterProvider("http://127.0.0.1:0", "", "m", "", "")
	_, _, err := drain(t, p.StreamChat(context.Background(), Request{}))
	require.Error(t, err)
}

func TestOpenRouter_StatusErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenRouterProvider(srv.URL, "k", "m", "", "").Chat(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOpenAI_StreamChatAgainstCompatibleServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hi", "there"} {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(srv.URL, "sk", "gpt-4o")
	require.NoError(t, err)
	text, _, err := drain(t, p.StreamChat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "Hello"}}}))
	require.NoError(t, err)
	assert.Equal(t, "Hithere", text)
}

func TestCatalog_LookupAndCapabilities(t *testing.T) {
	mc, err := LookupModel("Gemini 2.0 Flash Exp")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, mc.Provider)
	assert.Equal(t, HeaderGoogleKey, mc.HeaderKey)
	assert.True(t, mc.ImageGeneration)
	assert.True(t, mc.SearchGrounding)

	mc, err = LookupModel("Deepseek V3")
	require.NoError(t, err)
	assert.False(t, mc.SearchGrounding)

	_, err = LookupModel("GPT-9")
	assert.ErrorIs(t, err, common.ErrValidation)

	names := Models()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1].Name, names[i].Name)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	_, err := NewRegistry().Get(context.Background(), "anthropic", "m", "k")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegistry_DefaultsBuildLocalProvider(t *testing.T) {
	r := NewDefaultRegistry(Options{OllamaModel: "qwen"})
	mc, err := LookupModel("Local")
	require.NoError(t, err)
	p, err := r.ForModel(context.Background(), mc, "")
	require.NoError(t, err)
	op, ok := p.(*OllamaProvider)
	require.True(t, ok)
	assert.Equal(t, "qwen", op.Model)
}

func TestGoogle_CollectSkipsThoughtsAndDedupesSources(t *testing.T) {
	var text strings.Builder
	var sources []Source
	var assets []Asset
	collect(googleResponse(), &text, &sources, &assets)

	assert.Equal(t, "answer", text.String())
	assert.Equal(t, []Source{{Title: "Go", URL: "https://go.dev"}}, sources)
	require.Len(t, assets, 1)
	assert.Equal(t, "image/png", assets[0].MIMEType)
}
