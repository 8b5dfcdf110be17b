// Package ai is the model-provider boundary: a provider-neutral request and
// result shape, the model catalog, and one adapter per upstream API.
package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source is one web citation returned by a search-grounded generation.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Asset is a binary artifact (an image) returned inline by a provider.
type Asset struct {
	MIMEType string
	Data     []byte
}

type Request struct {
	System   string
	Messages []Message
	// Search asks the provider to ground the answer on web results.
	Search bool
	// Image asks for mixed text and image output.
	Image bool
}

type Result struct {
	Text    string
	Sources []Source
	Assets  []Asset
}

// Chunk is one streamed piece of a response. Sources, when present, arrive
// on the last chunk of a search-grounded stream.
type Chunk struct {
	Text    string
	Sources []Source
}

type Provider interface {
	Chat(ctx context.Context, req Request) (*Result, error)
}

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when streaming ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// withSystem prepends req.System as a system turn for chat-completions style APIs.
func withSystem(req Request) []Message {
	if req.System == "" {
		return req.Messages
	}
	out := make([]Message, 0, len(req.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: req.System})
	return append(out, req.Messages...)
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
