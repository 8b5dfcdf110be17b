package ai

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/branchchat/internal/common"
)

const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
)

// ModelConfig describes one user-selectable model.
type ModelConfig struct {
	Name     string `json:"name"`
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"`
	// HeaderKey is the request header carrying the caller's provider
	// credential. Empty means the provider needs none.
	HeaderKey       string `json:"header_key,omitempty"`
	FileInput       bool   `json:"file_input"`
	SearchGrounding bool   `json:"search_grounding"`
	ImageGeneration bool   `json:"image_generation"`
}

const (
	HeaderOpenRouterKey = "X-OpenRouter-API-Key"
	HeaderGoogleKey     = "X-Google-API-Key"
	HeaderOpenAIKey     = "X-OpenAI-API-Key"
)

var catalog = map[string]ModelConfig{
	"Deepseek R1 0528": {
		ModelID: "deepseek/deepseek-r1-0528:free", Provider: ProviderOpenRouter, HeaderKey: HeaderOpenRouterKey,
	},
	"Deepseek V3": {
		ModelID: "deepseek/deepseek-chat-v3-0324:free", Provider: ProviderOpenRouter, HeaderKey: HeaderOpenRouterKey,
	},
	"Llama 4 Maverick": {
		ModelID: "meta-llama/llama-3.3-8b-instruct:free", Provider: ProviderOpenRouter, HeaderKey: HeaderOpenRouterKey,
	},
	"Gemini 2.5 Pro": {
		ModelID: "gemini-2.5-pro-preview-05-06", Provider: ProviderGoogle, HeaderKey: HeaderGoogleKey,
		FileInput: true, SearchGrounding: true,
	},
	"Gemini 2.5 Flash": {
		ModelID: "gemini-2.5-flash-preview-04-17", Provider: ProviderGoogle, HeaderKey: HeaderGoogleKey,
		FileInput: true, SearchGrounding: true,
	},
	"Gemini 2.0 Flash": {
		ModelID: "gemini-2.0-flash", Provider: ProviderGoogle, HeaderKey: HeaderGoogleKey,
		FileInput: true, SearchGrounding: true,
	},
	"Gemini 2.0 Flash Exp": {
		ModelID: "gemini-2.0-flash-exp", Provider: ProviderGoogle, HeaderKey: HeaderGoogleKey,
		FileInput: true, SearchGrounding: true, ImageGeneration: true,
	},
	"GPT-4o": {
		ModelID: "gpt-4o", Provider: ProviderOpenAI, HeaderKey: HeaderOpenAIKey,
	},
	"GPT-4.1-mini": {
		ModelID: "gpt-4.1-mini", Provider: ProviderOpenAI, HeaderKey: HeaderOpenAIKey,
	},
	// Served by the local ollama daemon; model id comes from OLLAMA_MODEL.
	"Local": {
		Provider: ProviderOllama,
	},
}

// LookupModel returns the catalog entry for a user-facing model name.
func LookupModel(name string) (ModelConfig, error) {
	mc, ok := catalog[name]
	if !ok {
		return ModelConfig{}, errors.Wrapf(common.ErrValidation, "unknown model %q", name)
	}
	mc.Name = name
	return mc, nil
}

// Models lists the catalog sorted by name.
func Models() []ModelConfig {
	out := make([]ModelConfig, 0, len(catalog))
	for name, mc := range catalog {
		mc.Name = name
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
