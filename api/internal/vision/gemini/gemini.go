package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"plantdoc-bot/api/internal/vision"
)

const providerName = "gemini"

type Engine struct {
	cl *genai.Client
}

func New(ctx context.Context, apiKey string) (*Engine, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Engine{cl: cl}, nil
}

func (e *Engine) Name() string { return providerName }

func (e *Engine) Close() error { return e.cl.Close() }

func (e *Engine) Generate(ctx context.Context, req vision.Request) (string, error) {
	m := e.cl.GenerativeModel(strings.TrimSpace(req.Model))
	configure(m, req.SystemInstruction)

	parts := []genai.Part{
		genai.Text(req.Prompt),
		&genai.Blob{MIMEType: req.MIMEType, Data: req.Image},
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", &vision.CallError{Provider: providerName, Model: req.Model, Kind: classify(err), Err: err}
	}
	return firstText(resp), nil
}

// configure: строго JSON, низкая температура, фильтры безопасности
// отключены (фото болезней растений иногда режутся как "медицинские").
func configure(m *genai.GenerativeModel, system string) {
	m.SetTemperature(0.3)
	m.SetTopP(0.8)
	m.SetTopK(40)
	m.SetMaxOutputTokens(4096)
	m.ResponseMIMEType = "application/json"
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			return s
		}
	}
	return ""
}

func classify(err error) vision.FailureKind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return vision.QuotaExceeded
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return vision.ServiceUnavailable
		}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return vision.QuotaExceeded
		case codes.Unavailable:
			return vision.ServiceUnavailable
		}
	}
	// REST-транспорт иногда отдаёт только текст
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"), strings.Contains(msg, "429"):
		return vision.QuotaExceeded
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "overloaded"), strings.Contains(msg, "503"):
		return vision.ServiceUnavailable
	}
	return vision.Other
}
