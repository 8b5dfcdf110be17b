package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// ProviderFactory builds a provider bound to one model id and the
// caller-supplied credential.
type ProviderFactory func(ctx context.Context, model, apiKey string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name, model, apiKey string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(common.ErrValidation, "unsupported ai provider: %s", name)
	}
	return f(ctx, model, apiKey)
}

// ForModel resolves a catalog entry to a ready provider.
func (r *Registry) ForModel(ctx context.Context, mc ModelConfig, apiKey string) (Provider, error) {
	return r.Get(ctx, mc.Provider, mc.ModelID, apiKey)
}

// Options carries the deployment settings of the built-in providers.
type Options struct {
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string
	OpenAIBaseURL     string
	GoogleBaseURL     string
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(ProviderOllama, func(ctx context.Context, model, apiKey string) (Provider, error) {
		if model == "" {
			model = opts.OllamaModel
		}
		return NewOllamaProvider(opts.OllamaBaseURL, model), nil
	})
	r.Register(ProviderOpenRouter, func(ctx context.Context, model, apiKey string) (Provider, error) {
		return NewOpenRouterProvider(opts.OpenRouterBaseURL, apiKey, model, opts.OpenRouterSiteURL, opts.OpenRouterAppName), nil
	})
	r.Register(ProviderOpenAI, func(ctx context.Context, model, apiKey string) (Provider, error) {
		return NewOpenAIProvider(opts.OpenAIBaseURL, apiKey, model)
	})
	r.Register(ProviderGoogle, func(ctx context.Context, model, apiKey string) (Provider, error) {
		return NewGoogleProvider(ctx, opts.GoogleBaseURL, apiKey, model)
	})
	return r
}
