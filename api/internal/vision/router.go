package vision

import (
	"context"
	"fmt"
	"strings"
)

type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Router выбирает провайдера по префиксу модели ("openai:gpt-4o" → openai).
// Без префикса идём в провайдера по умолчанию.
type Router struct {
	def       Client
	providers map[string]Client
}

func NewRouter(def Client, others ...Client) *Router {
	r := &Router{def: def, providers: map[string]Client{}}
	if def != nil {
		r.providers[def.Name()] = def
	}
	for _, c := range others {
		if c != nil {
			r.providers[c.Name()] = c
		}
	}
	return r
}

func (r *Router) Name() string { return "router" }

// SplitModel разбирает "provider:model". Для "gemini-2.5-pro" провайдер пустой.
func SplitModel(model string) (provider, name string) {
	if i := strings.IndexByte(model, ':'); i > 0 {
		return strings.ToLower(model[:i]), model[i+1:]
	}
	return "", model
}

func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	provider, name := SplitModel(req.Model)
	c := r.def
	if provider != "" {
		c = r.providers[provider]
	}
	if c == nil {
		return "", &CallError{Provider: provider, Model: req.Model, Kind: ServiceUnavailable,
			Err: fmt.Errorf("provider is not configured")}
	}
	req.Model = name
	return c.Generate(ctx, req)
}
