package ai

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// GoogleProvider talks to the Gemini API. It is the only provider with
// search grounding and inline image output.
type GoogleProvider struct {
	Model  string
	client *genai.Client
}

func NewGoogleProvider(ctx context.Context, baseURL, apiKey, model string) (*GoogleProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("google: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("google: model is required")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "google: create client")
	}
	return &GoogleProvider{Model: model, client: client}, nil
}

func googleContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return out
}

func googleConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if req.Image {
		cfg.ResponseModalities = []string{"TEXT", "IMAGE"}
	}
	return cfg
}

// collect folds one response into text, sources and assets. Thought parts
// are skipped.
func collect(resp *genai.GenerateContentResponse, text *strings.Builder, sources *[]Source, assets *[]Asset) {
	if resp == nil {
		return
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought {
					continue
				}
				if part.Text != "" {
					text.WriteString(part.Text)
				}
				if part.InlineData != nil && assets != nil {
					*assets = append(*assets, Asset{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
				}
			}
		}
		if gm := cand.GroundingMetadata; gm != nil && sources != nil {
			for _, gc := range gm.GroundingChunks {
				if gc == nil || gc.Web == nil || gc.Web.URI == "" {
					continue
				}
				*sources = appendSource(*sources, Source{Title: gc.Web.Title, URL: gc.Web.URI})
			}
		}
	}
}

func appendSource(list []Source, s Source) []Source {
	for _, have := range list {
		if have.URL == s.URL {
			return list
		}
	}
	return append(list, s)
}

func (p *GoogleProvider) Chat(ctx context.Context, req Request) (*Result, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.Model, googleContents(req.Messages), googleConfig(req))
	if err != nil {
		return nil, errors.Wrap(err, "google: generate content")
	}
	var (
		text    strings.Builder
		sources []Source
		assets  []Asset
	)
	collect(resp, &text, &sources, &assets)
	return &Result{Text: text.String(), Sources: sources, Assets: assets}, nil
}

func (p *GoogleProvider) StreamChat(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		var sources []Source
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.Model, googleContents(req.Messages), googleConfig(req)) {
			if err != nil {
				errs <- errors.Wrap(err, "google: stream content")
				return
			}
			var text strings.Builder
			collect(resp, &text, &sources, nil)
			if text.Len() == 0 {
				continue
			}
			if !send(ctx, chunks, Chunk{Text: text.String()}) {
				errs <- ctx.Err()
				return
			}
		}
		if len(sources) > 0 {
			if !send(ctx, chunks, Chunk{Sources: sources}) {
				errs <- ctx.Err()
			}
		}
	}()

	return chunks, errs
}
