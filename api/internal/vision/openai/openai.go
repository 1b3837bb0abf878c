// Package openai - запасной провайдер для OpenAI-совместимых API.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"plantdoc-bot/api/internal/util"
	"plantdoc-bot/api/internal/vision"
)

const providerName = "openai"

type Engine struct {
	cl *openai.Client
}

func New(apiKey, baseURL string) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Engine{cl: openai.NewClientWithConfig(cfg)}, nil
}

func (e *Engine) Name() string { return providerName }

func (e *Engine) Generate(ctx context.Context, req vision.Request) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    util.DataURL(req.MIMEType, req.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	})

	resp, err := e.cl.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          req.Model,
		Messages:       msgs,
		Temperature:    0.3,
		TopP:           0.8,
		MaxTokens:      4096,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", &vision.CallError{Provider: providerName, Model: req.Model, Kind: classify(err), Err: err}
	}
	for _, ch := range resp.Choices {
		if s := strings.TrimSpace(ch.Message.Content); s != "" {
			return s, nil
		}
	}
	return "", nil
}

func classify(err error) vision.FailureKind {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch code {
	case http.StatusTooManyRequests:
		return vision.QuotaExceeded
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return vision.ServiceUnavailable
	}
	return vision.Other
}
