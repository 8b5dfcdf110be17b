package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/ledger"
	"github.com/suPer8Hu/branchchat/internal/storage"
)

type fakeChats struct {
	mu        sync.Mutex
	history   []ai.Message
	prompt    string
	responses map[string]string
	titles    chan string
}

func newFakeChats(history ...ai.Message) *fakeChats {
	return &fakeChats{history: history, responses: map[string]string{}, titles: make(chan string, 1)}
}

func (f *fakeChats) History(context.Context, string) ([]ai.Message, error) { return f.history, nil }

func (f *fakeChats) Prompt(_ context.Context, id string) (string, error) {
	if f.prompt == "" {
		return "", errors.Wrapf(common.ErrNotFound, "message %s", id)
	}
	return f.prompt, nil
}

func (f *fakeChats) SetResponse(_ context.Context, streamID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[streamID] = text
	return nil
}

func (f *fakeChats) response(streamID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.responses[streamID]
	return r, ok
}

func (f *fakeChats) UpdateTitle(_ context.Context, _ string, title string) error {
	f.titles <- title
	return nil
}

type scripted struct {
	chunks    []ai.Chunk
	streamErr error
	result    *ai.Result
	chatErr   error
	title     string
	titleErr  error
	// titleHang makes the title call wait for its context to end
	titleHang bool
}

func (s *scripted) Chat(ctx context.Context, req ai.Request) (*ai.Result, error) {
	if req.System == threadTitlePrompt {
		if s.titleHang {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if s.titleErr != nil {
			return nil, s.titleErr
		}
		return &ai.Result{Text: s.title}, nil
	}
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return s.result, nil
}

// streaming adds StreamChat to a scripted provider.
type streaming struct{ *scripted }

func (s streaming) StreamChat(ctx context.Context, req ai.Request) (<-chan ai.Chunk, <-chan error) {
	chunks := make(chan ai.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range s.chunks {
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if s.streamErr != nil {
			errs <- s.streamErr
		}
	}()
	return chunks, errs
}

type providerFunc func(mc ai.ModelConfig) ai.Provider

func (f providerFunc) ForModel(_ context.Context, mc ai.ModelConfig, _ string) (ai.Provider, error) {
	return f(mc), nil
}

type fakeBlobs struct {
	uploads map[string]error
	seq     int
}

func (b *fakeBlobs) GenerateUploadTarget(context.Context) (string, error) {
	b.seq++
	return "upload-" + string(rune('0'+b.seq)), nil
}

func (b *fakeBlobs) ResolveURL(_ context.Context, id string) (string, error) {
	return "https://files.test/" + id, nil
}

func (b *fakeBlobs) Upload(_ context.Context, url, _ string, _ []byte) (string, error) {
	if err, ok := b.uploads[url]; ok {
		return "", err
	}
	return "asset-" + url, nil
}

type harness struct {
	ledger *ledger.Ledger
	chats  *fakeChats
	blobs  *fakeBlobs
}

func newHarness(t *testing.T, chats *fakeChats, p ai.Provider) (*harness, *Producer) {
	t.Helper()
	l, err := ledger.Open("", ledger.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	h := &harness{ledger: l, chats: chats, blobs: &fakeBlobs{uploads: map[string]error{}}}
	prov := providerFunc(func(ai.ModelConfig) ai.Provider { return p })
	return h, New(l, chats, prov, h.blobs, h.blobs, time.Second)
}

func (h *harness) stream(t *testing.T) string {
	t.Helper()
	id, err := h.ledger.Create(context.Background())
	require.NoError(t, err)
	return id
}

func (h *harness) read(t *testing.T, id string) ledger.Delta {
	t.Helper()
	d, err := h.ledger.Read(context.Background(), id, 0)
	require.NoError(t, err)
	return d
}

func msgJob(streamID, model string) Job {
	return Job{Kind: KindMessage, StreamID: streamID, ThreadID: "th", Model: model, APIKey: "k"}
}

func TestRun_TextModeStreamsAndStoresResponse(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "Hello"})
	p := streaming{&scripted{chunks: []ai.Chunk{{Text: "Hi"}, {Text: "there"}}, title: "  Greeting  "}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)

	require.NoError(t, prod.Run(context.Background(), msgJob(id, "Deepseek V3")))

	d := h.read(t, id)
	assert.Equal(t, "Hithere", d.Text)
	assert.Equal(t, ledger.StatusDone, d.Status)
	resp, ok := chats.response(id)
	require.True(t, ok)
	assert.Equal(t, "Hithere", resp)

	select {
	case title := <-chats.titles:
		assert.Equal(t, "Greeting", title)
	case <-time.After(2 * time.Second):
		t.Fatal("thread title was not generated")
	}
}

func TestRun_TitleFailureDoesNotAffectStream(t *testing.T) {
	cases := map[string]*scripted{
		"error": {chunks: []ai.Chunk{{Text: "full "}, {Text: "answer"}}, titleErr: errors.New("rate limited")},
		"hang":  {chunks: []ai.Chunk{{Text: "full "}, {Text: "answer"}}, titleHang: true},
	}
	for name, sc := range cases {
		t.Run(name, func(t *testing.T) {
			chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "Hello"})
			h, _ := newHarness(t, chats, streaming{sc})
			prod := New(h.ledger, chats, providerFunc(func(ai.ModelConfig) ai.Provider { return streaming{sc} }), h.blobs, h.blobs, 50*time.Millisecond)
			id := h.stream(t)

			require.NoError(t, prod.Run(context.Background(), msgJob(id, "Deepseek V3")))

			d := h.read(t, id)
			assert.Equal(t, "full answer", d.Text)
			assert.Equal(t, ledger.StatusDone, d.Status)
			resp, ok := chats.response(id)
			require.True(t, ok)
			assert.Equal(t, "full answer", resp)

			select {
			case title := <-chats.titles:
				t.Fatalf("unexpected title %q", title)
			case <-time.After(300 * time.Millisecond):
			}
		})
	}
}

func TestRun_RejectedJobLeavesStreamPending(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"})
	h, prod := newHarness(t, chats, streaming{&scripted{chunks: []ai.Chunk{{Text: "x"}}}})
	id := h.stream(t)

	err := prod.Run(context.Background(), Job{Kind: KindMessage, StreamID: id, ThreadID: "th", Model: "Deepseek V3"})
	assert.ErrorIs(t, err, common.ErrValidation)

	err = prod.Run(context.Background(), Job{Kind: KindMessage, StreamID: id, ThreadID: "th", Model: "no such model", APIKey: "k"})
	assert.ErrorIs(t, err, common.ErrValidation)

	d := h.read(t, id)
	assert.Equal(t, ledger.StatusPending, d.Status)
	assert.Empty(t, d.Text)
	_, stored := chats.response(id)
	assert.False(t, stored)
}

func TestRun_SearchAppendsSourcesSection(t *testing.T) {
	chats := newFakeChats(
		ai.Message{Role: ai.RoleUser, Content: "a"},
		ai.Message{Role: ai.RoleAssistant, Content: "b"},
		ai.Message{Role: ai.RoleUser, Content: "news?"},
	)
	p := streaming{&scripted{chunks: []ai.Chunk{
		{Text: "answer"},
		{Sources: []ai.Source{{Title: "Go", URL: "https://go.dev"}, {Title: "Docs", URL: "https://pkg.go.dev"}}},
	}}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)

	job := msgJob(id, "Gemini 2.0 Flash")
	job.Search = true
	require.NoError(t, prod.Run(context.Background(), job))

	assert.Equal(t, "answer\n**Sources**\n- [Go](https://go.dev)\n- [Docs](https://pkg.go.dev)", h.read(t, id).Text)
}

func TestRun_SearchDroppedForUnsupportedModel(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"}, ai.Message{Role: ai.RoleAssistant, Content: "b"}, ai.Message{Role: ai.RoleUser, Content: "c"})
	p := streaming{&scripted{chunks: []ai.Chunk{{Text: "plain"}, {Sources: []ai.Source{{Title: "x", URL: "y"}}}}}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)

	job := msgJob(id, "Deepseek V3")
	job.Search = true
	require.NoError(t, prod.Run(context.Background(), job))
	assert.Equal(t, "plain", h.read(t, id).Text)
}

func TestRun_ProviderFailureKeepsPartialText(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"}, ai.Message{Role: ai.RoleAssistant, Content: "b"}, ai.Message{Role: ai.RoleUser, Content: "c"})
	p := streaming{&scripted{chunks: []ai.Chunk{{Text: "half"}}, streamErr: errors.New("connection reset")}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)

	err := prod.Run(context.Background(), msgJob(id, "Deepseek V3"))
	assert.ErrorIs(t, err, common.ErrProvider)

	d := h.read(t, id)
	assert.Equal(t, "half", d.Text)
	assert.Equal(t, ledger.StatusError, d.Status)
	_, stored := chats.response(id)
	assert.False(t, stored)
}

func TestRun_CompositeModeUploadsImages(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"}, ai.Message{Role: ai.RoleAssistant, Content: "b"}, ai.Message{Role: ai.RoleUser, Content: "draw"})
	p := &scripted{result: &ai.Result{Text: "here", Assets: []ai.Asset{
		{MIMEType: "image/png", Data: []byte{1}},
		{MIMEType: "application/json", Data: []byte("{}")},
		{MIMEType: "image/png", Data: []byte{2}},
	}}}
	h, prod := newHarness(t, chats, p)
	h.blobs.uploads["upload-2"] = &storage.UploadError{Reason: "Forbidden"}
	id := h.stream(t)

	job := msgJob(id, "Gemini 2.0 Flash Exp")
	job.Image = true
	require.NoError(t, prod.Run(context.Background(), job))

	d := h.read(t, id)
	assert.Equal(t, "here\n![](https://files.test/asset-upload-1)\nError uploading image: Forbidden", d.Text)
	assert.Equal(t, ledger.StatusDone, d.Status)
}

func TestRun_CompositeModeMissingStorageID(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"}, ai.Message{Role: ai.RoleAssistant, Content: "b"}, ai.Message{Role: ai.RoleUser, Content: "draw"})
	p := &scripted{result: &ai.Result{Text: "here", Assets: []ai.Asset{{MIMEType: "image/png", Data: []byte{1}}}}}
	h, prod := newHarness(t, chats, p)
	h.blobs.uploads["upload-1"] = errors.WithStack(storage.ErrMissingStorageID)
	id := h.stream(t)

	job := msgJob(id, "Gemini 2.0 Flash Exp")
	job.Image = true
	require.NoError(t, prod.Run(context.Background(), job))

	d := h.read(t, id)
	assert.Equal(t, "here\nError: Could not get storage ID for image.", d.Text)
	assert.Equal(t, ledger.StatusDone, d.Status)
}

func TestRun_BreakpointStreamsTitle(t *testing.T) {
	chats := newFakeChats()
	chats.prompt = "explain raft"
	p := streaming{&scripted{chunks: []ai.Chunk{{Text: "Raft "}, {Text: "Explained"}}}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)

	require.NoError(t, prod.Run(context.Background(), Job{Kind: KindBreakPoint, StreamID: id, MessageID: "m", Model: "Deepseek V3", APIKey: "k"}))
	assert.Equal(t, "Raft Explained", h.read(t, id).Text)
	resp, _ := chats.response(id)
	assert.Equal(t, "Raft Explained", resp)
}

func TestRun_LostStreamIsLeftAlone(t *testing.T) {
	chats := newFakeChats(ai.Message{Role: ai.RoleUser, Content: "a"}, ai.Message{Role: ai.RoleAssistant, Content: "b"}, ai.Message{Role: ai.RoleUser, Content: "c"})
	p := streaming{&scripted{chunks: []ai.Chunk{{Text: "mine"}}}}
	h, prod := newHarness(t, chats, p)
	id := h.stream(t)
	_, err := h.ledger.Writer(id).Append(context.Background(), "other")
	require.NoError(t, err)

	err = prod.Run(context.Background(), msgJob(id, "Deepseek V3"))
	assert.ErrorIs(t, err, common.ErrInvalidState)

	d := h.read(t, id)
	assert.Equal(t, "other", d.Text)
	assert.Equal(t, ledger.StatusStreaming, d.Status)
}

func TestValidate(t *testing.T) {
	job := Job{Kind: KindMessage, StreamID: "s", ThreadID: "t", Model: "Gemini 2.0 Flash Exp", APIKey: "k", Search: true, Image: true}
	_, err := Validate(&job)
	assert.ErrorIs(t, err, common.ErrValidation)

	job = Job{Kind: KindMessage, StreamID: "s", ThreadID: "t", Model: "GPT-4o"}
	_, err = Validate(&job)
	assert.ErrorIs(t, err, common.ErrValidation)

	job = Job{Kind: KindMessage, StreamID: "s", ThreadID: "t", Model: "Local", Search: true, Image: true}
	mc, err := Validate(&job)
	require.NoError(t, err)
	assert.Equal(t, ai.ProviderOllama, mc.Provider)
	assert.False(t, job.Search)
	assert.False(t, job.Image)

	job = Job{Kind: "poll", StreamID: "s", Model: "Local"}
	_, err = Validate(&job)
	assert.ErrorIs(t, err, common.ErrValidation)
}
