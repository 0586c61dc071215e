package engine

import (
	"context"
	"sync"
	"unicode/utf8"
)

// Mock produces silence sized to the input text. It is the default backend
// for development and tests.
type Mock struct {
	mu        sync.Mutex
	utt       utterance
	preloaded []string
	spoken    []string
}

// Mock output format, matching mimic3's low quality voices.
const (
	mockSampleRate  = 22050
	mockSampleWidth = 2
	// samples of silence per input character
	mockSamplesPerRune = 220
)

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) PreloadVoice(_ context.Context, voice string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preloaded = append(m.preloaded, voice)
	return nil
}

// Preloaded lists the voices passed to PreloadVoice, in call order.
func (m *Mock) Preloaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.preloaded...)
}

// Spoken lists the texts synthesized so far.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

func (m *Mock) SpeakSSML(ctx context.Context, ssml string, consume func(Result) error) error {
	return m.speak(ctx, ssml, consume)
}

func (m *Mock) BeginUtterance() error {
	m.utt.begin()
	return nil
}

func (m *Mock) SpeakText(_ context.Context, text string) error {
	return m.utt.add(text)
}

func (m *Mock) EndUtterance(ctx context.Context, consume func(Result) error) error {
	text, err := m.utt.end()
	if err != nil {
		return err
	}
	return m.speak(ctx, text, consume)
}

func (m *Mock) Close() error { return nil }

func (m *Mock) speak(ctx context.Context, text string, consume func(Result) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()

	if err := consume(&MarkResult{Name: "start"}); err != nil {
		return err
	}
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return nil
	}
	return consume(&AudioResult{
		SampleRateHz:     mockSampleRate,
		SampleWidthBytes: mockSampleWidth,
		NumChannels:      1,
		AudioBytes:       make([]byte, runes*mockSamplesPerRune*mockSampleWidth),
	})
}
