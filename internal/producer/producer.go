package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/ledger"
	"github.com/suPer8Hu/branchchat/internal/storage"
)

const (
	assistantPrompt = `You are an ai assistant that can answer questions and help with tasks.
Be as helpful as you can and provide really relevant information.
You are continuing a conversation. The conversation history is JSON-formatted.
Provide your response in markdown format.
When generating images, just mention that you are generating them.`

	threadTitlePrompt = `generate a short title based on the first message a user send
ensure the title it is no more than 7 words long
the title should be a summary of the user message
you should Not answer the user message, only generate the title
do not use quotes or colons`

	breakpointTitlePrompt = `generate a short title based on the provided user message
ensure the title it is no more than 10 words long
the title should be a summary of the user message
you should Not answer the user message, only generate the title
do not use quotes or colons`
)

// Conversations is what the producer reads from and writes back to the
// chat store.
type Conversations interface {
	History(ctx context.Context, threadID string) ([]ai.Message, error)
	Prompt(ctx context.Context, messageID string) (string, error)
	SetResponse(ctx context.Context, streamID, text string) error
	UpdateTitle(ctx context.Context, threadID, title string) error
}

type Providers interface {
	ForModel(ctx context.Context, mc ai.ModelConfig, apiKey string) (ai.Provider, error)
}

// Blobs hands out upload targets and resolves stored assets to URLs.
type Blobs interface {
	GenerateUploadTarget(ctx context.Context) (string, error)
	ResolveURL(ctx context.Context, id string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, url, contentType string, data []byte) (string, error)
}

type Producer struct {
	ledger       *ledger.Ledger
	chats        Conversations
	providers    Providers
	blobs        Blobs
	uploader     Uploader
	titleTimeout time.Duration
}

func New(l *ledger.Ledger, chats Conversations, providers Providers, blobs Blobs, uploader Uploader, titleTimeout time.Duration) *Producer {
	if titleTimeout <= 0 {
		titleTimeout = 30 * time.Second
	}
	return &Producer{
		ledger:       l,
		chats:        chats,
		providers:    providers,
		blobs:        blobs,
		uploader:     uploader,
		titleTimeout: titleTimeout,
	}
}

// sink appends to the stream and keeps a copy of everything appended.
type sink struct {
	w   *ledger.Writer
	buf strings.Builder
}

func (s *sink) append(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if _, err := s.w.Append(ctx, text); err != nil {
		return err
	}
	s.buf.WriteString(text)
	return nil
}

// Run produces job into its stream. The stream always ends terminal unless
// another writer owns it: done after the response was stored, error on any
// failure with the partial text kept.
func (p *Producer) Run(ctx context.Context, job Job) error {
	start := time.Now()
	out := &sink{w: p.ledger.Writer(job.StreamID)}
	logger := log.With().Str("stream_id", job.StreamID).Str("kind", string(job.Kind)).Str("model", job.Model).Logger()

	mode, err := p.run(ctx, job, out)
	// finalization must land even when ctx timed out
	fctx := context.WithoutCancel(ctx)
	if err != nil {
		generationSeconds.WithLabelValues(mode, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, common.ErrInvalidState) {
			logger.Warn().Err(err).Msg("producer_lost_stream")
			return err
		}
		// rejected jobs leave the stream pending for a valid request to drive
		if errors.Is(err, common.ErrValidation) {
			logger.Warn().Err(err).Msg("producer_rejected")
			return err
		}
		if ferr := out.w.Finalize(fctx, ledger.StatusError); ferr != nil && !errors.Is(ferr, common.ErrInvalidState) {
			logger.Error().Err(ferr).Msg("producer_finalize_failed")
		}
		logger.Error().Err(err).Msg("producer_failed")
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return errors.Wrap(common.ErrProvider, err.Error())
	}

	if err := p.chats.SetResponse(fctx, job.StreamID, out.buf.String()); err != nil {
		logger.Error().Err(err).Msg("producer_set_response_failed")
	}
	if err := out.w.Finalize(fctx, ledger.StatusDone); err != nil {
		generationSeconds.WithLabelValues(mode, "error").Observe(time.Since(start).Seconds())
		logger.Warn().Err(err).Msg("producer_finalize_failed")
		return err
	}
	generationSeconds.WithLabelValues(mode, "done").Observe(time.Since(start).Seconds())
	logger.Info().Int("bytes", out.buf.Len()).Dur("cost", time.Since(start)).Msg("producer_done")
	return nil
}

func (p *Producer) run(ctx context.Context, job Job, out *sink) (string, error) {
	mc, err := Validate(&job)
	if err != nil {
		return "invalid", err
	}
	provider, err := p.providers.ForModel(ctx, mc, job.APIKey)
	if err != nil {
		return "invalid", err
	}

	if job.Kind == KindBreakPoint {
		return "breakpoint", p.breakpointTitle(ctx, provider, job, out)
	}

	history, err := p.chats.History(ctx, job.ThreadID)
	if err != nil {
		return "text", err
	}
	if len(history) == 1 {
		p.titleThread(ctx, provider, job.ThreadID, history)
	}
	if job.Image {
		return "composite", p.composite(ctx, provider, history, out)
	}
	return "text", p.text(ctx, provider, ai.Request{System: assistantPrompt, Messages: history, Search: job.Search}, out)
}

// text streams the response chunk by chunk, then the sources section when
// search grounding was requested and returned any.
func (p *Producer) text(ctx context.Context, provider ai.Provider, req ai.Request, out *sink) error {
	var sources []ai.Source

	sp, ok := provider.(ai.StreamProvider)
	if !ok {
		res, err := provider.Chat(ctx, req)
		if err != nil {
			return err
		}
		if err := out.append(ctx, res.Text); err != nil {
			return err
		}
		sources = res.Sources
	} else {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chunks, errs := sp.StreamChat(sctx, req)
		for c := range chunks {
			if err := out.append(ctx, c.Text); err != nil {
				return err
			}
			sources = append(sources, c.Sources...)
		}
		if err := <-errs; err != nil {
			return err
		}
	}

	if !req.Search || len(sources) == 0 {
		return nil
	}
	if err := out.append(ctx, "\n"); err != nil {
		return err
	}
	if err := out.append(ctx, "**Sources**"); err != nil {
		return err
	}
	for _, s := range sources {
		if err := out.append(ctx, fmt.Sprintf("\n- [%s](%s)", s.Title, s.URL)); err != nil {
			return err
		}
	}
	return nil
}

// composite asks for text and images in one unary call, appends the text,
// then stores each image and appends a markdown reference to it. A failed
// image leaves an inline note and does not fail the job.
func (p *Producer) composite(ctx context.Context, provider ai.Provider, history []ai.Message, out *sink) error {
	res, err := provider.Chat(ctx, ai.Request{Messages: history, Image: true})
	if err != nil {
		return err
	}
	if err := out.append(ctx, res.Text); err != nil {
		return err
	}
	for _, a := range res.Assets {
		if !strings.HasPrefix(a.MIMEType, "image/") {
			continue
		}
		for _, part := range p.storeImage(ctx, a) {
			if err := out.append(ctx, part); err != nil {
				return err
			}
		}
	}
	return nil
}

// storeImage uploads one image and returns what to append for it.
func (p *Producer) storeImage(ctx context.Context, a ai.Asset) []string {
	target, err := p.blobs.GenerateUploadTarget(ctx)
	if err != nil {
		log.Error().Err(err).Msg("producer_upload_target_failed")
		return []string{"\nAn error occurred while processing an image."}
	}
	id, err := p.uploader.Upload(ctx, target, a.MIMEType, a.Data)
	if err != nil {
		log.Error().Err(err).Msg("producer_image_upload_failed")
		if errors.Is(err, storage.ErrMissingStorageID) {
			return []string{"\nError: Could not get storage ID for image."}
		}
		reason := err.Error()
		var ue *storage.UploadError
		if errors.As(err, &ue) {
			reason = ue.Reason
		}
		return []string{"\nError uploading image: " + reason}
	}
	url, err := p.blobs.ResolveURL(ctx, id)
	if err != nil || url == "" {
		log.Error().Err(err).Str("asset_id", id).Msg("producer_image_url_failed")
		return []string{"\nError: Could not get URL for image."}
	}
	return []string{"\n", "![](" + url + ")"}
}

func (p *Producer) breakpointTitle(ctx context.Context, provider ai.Provider, job Job, out *sink) error {
	prompt, err := p.chats.Prompt(ctx, job.MessageID)
	if err != nil {
		return err
	}
	return p.text(ctx, provider, ai.Request{
		System:   breakpointTitlePrompt,
		Messages: []ai.Message{{Role: ai.RoleUser, Content: prompt}},
	}, out)
}

// titleThread names a thread after its first message. It runs detached
// from the job and only logs failures.
func (p *Producer) titleThread(ctx context.Context, provider ai.Provider, threadID string, history []ai.Message) {
	msgs := append([]ai.Message(nil), history...)
	go func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.titleTimeout)
		defer cancel()

		res, err := provider.Chat(tctx, ai.Request{System: threadTitlePrompt, Messages: msgs})
		if err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("thread_title_failed")
			return
		}
		title := strings.TrimSpace(res.Text)
		if title == "" {
			return
		}
		if err := p.chats.UpdateTitle(tctx, threadID, title); err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("thread_title_update_failed")
			return
		}
		log.Debug().Str("thread_id", threadID).Str("title", title).Msg("thread_titled")
	}()
}
