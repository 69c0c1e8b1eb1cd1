package unifiedllm

import "strings"

// ModelInfo is a catalog entry. Prices are USD per million tokens.
type ModelInfo struct {
	ID            string
	Provider      string
	ContextWindow int
	InputPrice    float64
	OutputPrice   float64
	// Priced is false when the price is not known.
	Priced  bool
	Aliases []string
}

var catalog = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200_000, InputPrice: 15, OutputPrice: 75, Priced: true, Aliases: []string{"opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200_000, InputPrice: 3, OutputPrice: 15, Priced: true, Aliases: []string{"sonnet"}},
	{ID: "claude-haiku-4-5", Provider: "anthropic", ContextWindow: 200_000, InputPrice: 1, OutputPrice: 5, Priced: true, Aliases: []string{"haiku"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 400_000, InputPrice: 2.5, OutputPrice: 10, Priced: true},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 400_000, InputPrice: 0.75, OutputPrice: 3, Priced: true},
	{ID: "llama-3.3-70b-versatile", Provider: "groq", ContextWindow: 131_072, InputPrice: 0.59, OutputPrice: 0.79, Priced: true},
	{ID: "mistral-large-latest", Provider: "mistral", ContextWindow: 131_072, InputPrice: 2, OutputPrice: 6, Priced: true},
	{ID: "qwen2.5-coder", Provider: "ollama", ContextWindow: 32_768, Priced: true},
	{ID: "llama3.2", Provider: "ollama", ContextWindow: 131_072, Priced: true},
}

var catalogIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, m := range catalog {
		idx[m.ID] = i
		for _, a := range m.Aliases {
			idx[a] = i
		}
	}
	return idx
}()

// LookupModel finds a model by id or alias. Ollama tags such as
// "qwen2.5-coder:7b" resolve to their base model.
func LookupModel(id string) (ModelInfo, bool) {
	if i, ok := catalogIndex[id]; ok {
		return catalog[i], true
	}
	if base, _, found := strings.Cut(id, ":"); found {
		if i, ok := catalogIndex[base]; ok {
			return catalog[i], true
		}
	}
	return ModelInfo{}, false
}

// DefaultModel returns the first catalog model for provider.
func DefaultModel(provider string) (string, bool) {
	for _, m := range catalog {
		if m.Provider == provider {
			return m.ID, true
		}
	}
	return "", false
}

// CostFor returns the USD cost of a call. ok is false when the model's
// price is unknown.
func CostFor(model string, inputTokens, outputTokens int) (cost float64, ok bool) {
	m, found := LookupModel(model)
	if !found || !m.Priced {
		return 0, false
	}
	return (float64(inputTokens)*m.InputPrice + float64(outputTokens)*m.OutputPrice) / 1e6, true
}
