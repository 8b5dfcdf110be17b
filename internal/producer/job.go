// Package producer turns one generation job into text in the ledger: it
// assembles the conversation, calls the model provider and appends the
// result to the job's stream, then finalizes it.
package producer

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/common"
)

type Kind string

const (
	KindMessage    Kind = "message"
	KindBreakPoint Kind = "breakpoint"
)

// Job is everything a producer needs; it is also the queue payload.
type Job struct {
	Kind      Kind   `json:"kind"`
	StreamID  string `json:"stream_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key,omitempty"`
	Search    bool   `json:"search,omitempty"`
	Image     bool   `json:"image,omitempty"`
}

// Validate resolves the job's model and normalizes its flags in place.
// Flags the model does not support are dropped; asking for search and image
// generation together is rejected.
func Validate(job *Job) (ai.ModelConfig, error) {
	if strings.TrimSpace(job.StreamID) == "" {
		return ai.ModelConfig{}, errors.Wrap(common.ErrValidation, "missing stream id")
	}
	switch job.Kind {
	case KindMessage:
		if job.ThreadID == "" {
			return ai.ModelConfig{}, errors.Wrap(common.ErrValidation, "missing thread id")
		}
	case KindBreakPoint:
		if job.MessageID == "" {
			return ai.ModelConfig{}, errors.Wrap(common.ErrValidation, "missing message id")
		}
		job.Search, job.Image = false, false
	default:
		return ai.ModelConfig{}, errors.Wrapf(common.ErrValidation, "unknown job kind %q", job.Kind)
	}

	mc, err := ai.LookupModel(job.Model)
	if err != nil {
		return ai.ModelConfig{}, err
	}
	if mc.HeaderKey != "" && strings.TrimSpace(job.APIKey) == "" {
		return ai.ModelConfig{}, errors.Wrapf(common.ErrValidation, "missing key %s", mc.HeaderKey)
	}
	job.Search = job.Search && mc.SearchGrounding
	job.Image = job.Image && mc.ImageGeneration
	if job.Search && job.Image {
		return ai.ModelConfig{}, errors.Wrap(common.ErrValidation, "You should not search and generate image at the same time")
	}
	return mc, nil
}
