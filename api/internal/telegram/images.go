package telegram

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"plantdoc-bot/api/internal/bot"
)

// ImageSource скачивает файл по file_id через прямую ссылку Bot API.
type ImageSource struct {
	bot    botAPI
	client *http.Client
}

var _ bot.ImageSource = (*ImageSource)(nil)

func NewImageSource(b botAPI) *ImageSource {
	return &ImageSource{bot: b, client: &http.Client{Timeout: 60 * time.Second}}
}

// Fetch возвращает байты и тип из Content-Type. Бесполезный
// application/octet-stream отдаётся пустым, тип определит нормализатор.
func (s *ImageSource) Fetch(ctx context.Context, fileID string, limit int) ([]byte, string, error) {
	url, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt == "application/octet-stream" {
		ct = ""
	}
	return data, ct, nil
}
