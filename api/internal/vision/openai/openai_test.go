package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdoc-bot/api/internal/vision"
)

func newTestEngine(t *testing.T, h http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	e, err := New("test-key", srv.URL+"/v1")
	require.NoError(t, err)
	return e
}

func TestGenerateSendsImageAsDataURL(t *testing.T) {
	var body map[string]any
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" {\"confidence_level\":90} "}}]}`)
	})

	out, err := e.Generate(t.Context(), vision.Request{
		Model:             "gpt-4o-mini",
		SystemInstruction: "sys",
		Prompt:            "look",
		Image:             []byte{1, 2, 3},
		MIMEType:          "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence_level":90}`, out)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,AQID", img["url"])
}

func TestGenerateClassifiesHTTPStatus(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   vision.FailureKind
	}{
		{http.StatusTooManyRequests, vision.QuotaExceeded},
		{http.StatusServiceUnavailable, vision.ServiceUnavailable},
		{http.StatusBadRequest, vision.Other},
	} {
		e := newTestEngine(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"x"}}`)
		})
		_, err := e.Generate(t.Context(), vision.Request{Model: "m", Image: []byte{1}, MIMEType: "image/png"})
		require.Error(t, err)
		assert.Equal(t, tc.want, vision.KindOf(err), "status %d", tc.status)
	}
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("", "")
	assert.Error(t, err)
}
