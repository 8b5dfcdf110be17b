package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/common"
)

const attachmentWorkers = 8

// History assembles the provider conversation for a thread: one user turn
// per message with attachment descriptions appended, followed by the
// assistant turn when its response text is non-empty.
func (s *Service) History(ctx context.Context, threadID string) ([]ai.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}

	descs := make([][]string, len(msgs))
	texts := make([]string, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentWorkers)
	for i := range msgs {
		descs[i] = make([]string, len(msgs[i].Attachments))
		for j, assetID := range msgs[i].Attachments {
			g.Go(func() error {
				descs[i][j] = s.describeAttachment(gctx, assetID)
				return nil
			})
		}
		g.Go(func() error {
			text, err := s.responseText(gctx, &msgs[i])
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ai.Message, 0, 2*len(msgs))
	for i, m := range msgs {
		out = append(out, ai.Message{Role: ai.RoleUser, Content: userContent(m.Prompt, descs[i])})
		if texts[i] == "" {
			// not started yet
			continue
		}
		out = append(out, ai.Message{Role: ai.RoleAssistant, Content: texts[i]})
	}
	return out, nil
}

func userContent(prompt string, descs []string) string {
	kept := descs[:0:0]
	for _, d := range descs {
		if d != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(kept, "\n")
}

// describeAttachment renders one attachment as a text block, or "" when it
// cannot be resolved or its type is not supported.
func (s *Service) describeAttachment(ctx context.Context, assetID string) string {
	if s.assets == nil {
		return ""
	}
	meta, err := s.assets.GetMetadata(ctx, assetID)
	if err != nil {
		return ""
	}
	url, err := s.assets.ResolveURL(ctx, assetID)
	if err != nil || url == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(meta.ContentType, "image/"):
		return fmt.Sprintf("[Image: %s]", url)
	case strings.HasPrefix(meta.ContentType, "application/"):
		return fmt.Sprintf("[File: file (%s): %s]", meta.ContentType, url)
	}
	return ""
}

// responseText prefers the ledger and falls back to the stored copy once
// the entry has been collected.
func (s *Service) responseText(ctx context.Context, m *Message) (string, error) {
	text, err := s.streams.Text(ctx, m.StreamID)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, common.ErrNotFound) {
		return m.Response, nil
	}
	return "", errors.Wrapf(err, "read response of message %s", m.ID)
}
