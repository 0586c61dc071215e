// Package engine drives an external Mimic 3 speech synthesizer and delivers
// its output as an ordered stream of results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-mimic3/internal/config"
)

var (
	// ErrNoUtterance is returned when text is spoken outside BeginUtterance/EndUtterance.
	ErrNoUtterance = errors.New("no utterance in progress")
	// ErrEngineClosed is returned for calls after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Settings mirrors the knobs Mimic 3 accepts. Nil scales keep the voice defaults.
type Settings struct {
	Voice                   string
	Language                string
	VoicesDirectories       []string
	VoicesURLFormat         string
	Speaker                 string
	LengthScale             *float64
	NoiseScale              *float64
	NoiseW                  *float64
	VoicesDownloadDir       string
	UseDeterministicCompute bool
}

// SettingsFromConfig builds engine settings from the mimic3 config block.
func SettingsFromConfig(cfg config.Mimic3Config) Settings {
	return Settings{
		Voice:                   cfg.Voice,
		Language:                cfg.Language,
		VoicesDirectories:       append([]string(nil), cfg.VoicesDirectories...),
		VoicesURLFormat:         cfg.VoicesURLFormat,
		Speaker:                 cfg.Speaker,
		LengthScale:             cfg.LengthScale,
		NoiseScale:              cfg.NoiseScale,
		NoiseW:                  cfg.NoiseW,
		VoicesDownloadDir:       cfg.VoicesDownloadDir,
		UseDeterministicCompute: cfg.UseDeterministicCompute,
	}
}

// voiceFor resolves the voice to request; a bare language lets the engine
// pick its default voice for that language.
func (s Settings) voiceFor(override string) string {
	switch {
	case override != "":
		return override
	case s.Voice != "":
		return s.Voice
	default:
		return s.Language
	}
}

// Result is one item produced during synthesis: either *AudioResult or
// *MarkResult.
type Result interface {
	isResult()
}

// AudioResult is a fragment of PCM audio with its format.
type AudioResult struct {
	SampleRateHz     int
	SampleWidthBytes int
	NumChannels      int
	AudioBytes       []byte
}

// MarkResult reports a named position in the input, such as an SSML <mark>.
type MarkResult struct {
	Name string
}

func (*AudioResult) isResult() {}
func (*MarkResult) isResult()  {}

// Engine is the contract of a synthesis backend. Results are handed to
// consume in production order; a consume error stops synthesis and is
// returned as is.
type Engine interface {
	// PreloadVoice makes sure a voice is available before the first request.
	PreloadVoice(ctx context.Context, voice string) error
	// SpeakSSML synthesizes a complete SSML document.
	SpeakSSML(ctx context.Context, ssml string, consume func(Result) error) error
	// BeginUtterance starts collecting plain text.
	BeginUtterance() error
	// SpeakText adds text to the current utterance.
	SpeakText(ctx context.Context, text string) error
	// EndUtterance synthesizes the collected text and closes the utterance.
	EndUtterance(ctx context.Context, consume func(Result) error) error
	// Close releases backend resources.
	Close() error
}

// New constructs the backend selected by cfg.Mode.
func New(cfg config.TTSConfig, logger *slog.Logger) (Engine, error) {
	settings := SettingsFromConfig(cfg.Mimic3)
	switch cfg.Mode {
	case "mock", "":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg.Command, settings, logger)
	case "http":
		return NewHTTP(cfg.Endpoint, settings, logger), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
