package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// httpEngine talks to a running mimic3-server.
type httpEngine struct {
	endpoint string
	settings Settings
	client   *http.Client
	logger   *slog.Logger
	utt      utterance
}

func NewHTTP(endpoint string, settings Settings, logger *slog.Logger) Engine {
	return &httpEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		settings: settings,
		client:   http.DefaultClient,
		logger:   logger.With(slog.String("component", "mimic3-http")),
	}
}

func (h *httpEngine) PreloadVoice(ctx context.Context, voice string) error {
	if _, err := h.post(ctx, "test", false, voice); err != nil {
		return fmt.Errorf("preload voice %s: %w", voice, err)
	}
	h.logger.Info("voice preloaded", slog.String("voice", voice))
	return nil
}

func (h *httpEngine) SpeakSSML(ctx context.Context, ssml string, consume func(Result) error) error {
	data, err := h.post(ctx, ssml, true, "")
	if err != nil {
		return err
	}
	return emitSegments(data, consume)
}

func (h *httpEngine) BeginUtterance() error {
	h.utt.begin()
	return nil
}

func (h *httpEngine) SpeakText(_ context.Context, text string) error {
	return h.utt.add(text)
}

func (h *httpEngine) EndUtterance(ctx context.Context, consume func(Result) error) error {
	text, err := h.utt.end()
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	data, err := h.post(ctx, text, false, "")
	if err != nil {
		return err
	}
	return emitSegments(data, consume)
}

func (h *httpEngine) Close() error { return nil }

func (h *httpEngine) query(ssml bool, voice string) url.Values {
	s := h.settings
	q := url.Values{}
	if v := s.voiceFor(voice); v != "" {
		if s.Speaker != "" {
			v += "#" + s.Speaker
		}
		q.Set("voice", v)
	}
	if s.LengthScale != nil {
		q.Set("lengthScale", formatFloat(*s.LengthScale))
	}
	if s.NoiseScale != nil {
		q.Set("noiseScale", formatFloat(*s.NoiseScale))
	}
	if s.NoiseW != nil {
		q.Set("noiseW", formatFloat(*s.NoiseW))
	}
	q.Set("ssml", strconv.FormatBool(ssml))
	return q
}

func (h *httpEngine) post(ctx context.Context, text string, ssml bool, voice string) ([]byte, error) {
	target := h.endpoint + "/api/tts?" + h.query(ssml, voice).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "audio/wav")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mimic3 request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mimic3 response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mimic3 returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	h.logger.Debug("mimic3 response", slog.Int("bytes", len(body)), slog.Bool("ssml", ssml))
	return body, nil
}
