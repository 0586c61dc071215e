// Package plugin adapts a Mimic 3 engine to the assistant's TTS plugin
// contract: a sentence goes in, a WAV file comes out.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/loqalabs/loqa-mimic3/internal/engine"
	"github.com/loqalabs/loqa-mimic3/internal/host"
	"github.com/loqalabs/loqa-mimic3/internal/normalize"
	"github.com/loqalabs/loqa-mimic3/internal/wav"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultAudioExt = "wav"

// Options configure a Plugin.
type Options struct {
	// Lang is the host's language tag, e.g. "en-us".
	Lang string
	// AudioExt is the extension of cached audio files. Defaults to "wav".
	AudioExt string
	Mimic3   config.Mimic3Config
}

// Plugin is the Mimic 3 TTS plugin. Calls are serialized so one engine
// instance handles a single synthesis at a time.
type Plugin struct {
	lang      string
	audioExt  string
	cfg       config.Mimic3Config
	engine    engine.Engine
	host      host.Host
	validator Validator
	log       *slog.Logger

	persistentCacheDir string
	indexed            int

	mu      sync.Mutex
	tracer  trace.Tracer
	metrics synthMetrics
}

type synthMetrics struct {
	syntheses metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
}

// New builds the plugin, preloads the configured voices and indexes the
// persistent cache directory when one is configured.
func New(ctx context.Context, opts Options, eng engine.Engine, h host.Host, log *slog.Logger) (*Plugin, error) {
	if h == nil {
		h = host.Noop()
	}
	if opts.AudioExt == "" {
		opts.AudioExt = defaultAudioExt
	}
	p := &Plugin{
		lang:     opts.Lang,
		audioExt: opts.AudioExt,
		cfg:      opts.Mimic3,
		engine:   eng,
		host:     h,
		log:      log.With(slog.String("component", "mimic3-plugin")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-mimic3/plugin"),
	}
	p.validator = &mimic3Validator{plugin: p}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slogError(err))
	}

	if err := Validate(p.validator); err != nil {
		return nil, err
	}

	if voice := opts.Mimic3.Voice; voice != "" {
		if err := eng.PreloadVoice(ctx, voice); err != nil {
			return nil, err
		}
	}
	for _, voice := range opts.Mimic3.PreloadVoices {
		if err := eng.PreloadVoice(ctx, voice); err != nil {
			return nil, err
		}
	}

	if dir := opts.Mimic3.PreloadedCache; dir != "" {
		p.persistentCacheDir = dir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create preloaded cache dir: %w", err)
		}
		n, err := p.loadExistingAudioFiles()
		if err != nil {
			return nil, err
		}
		p.indexed = n
		p.log.Info("persistent cache indexed", slog.String("dir", dir), slog.Int("files", n))
	}

	return p, nil
}

func (p *Plugin) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-mimic3/plugin")
	var err error
	if p.metrics.syntheses, err = meter.Int64Counter("loqa.tts.syntheses",
		metric.WithDescription("Completed synthesis calls")); err != nil {
		return err
	}
	if p.metrics.failures, err = meter.Int64Counter("loqa.tts.failures",
		metric.WithDescription("Synthesis calls that returned an error")); err != nil {
		return err
	}
	p.metrics.duration, err = meter.Float64Histogram("loqa.tts.synthesis.duration",
		metric.WithDescription("Synthesis latency"), metric.WithUnit("s"))
	return err
}

// GetTTS synthesizes sentence into wavFile. Mimic 3 has no phoneme output,
// so the returned phonemes are always nil.
func (p *Plugin) GetTTS(ctx context.Context, sentence, wavFile string) (string, host.Phonemes, error) {
	req := normalize.Apply(sentence)
	data, err := p.Synthesize(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if err := wav.WriteFile(wavFile, data); err != nil {
		return "", nil, fmt.Errorf("write wav file: %w", err)
	}
	return wavFile, nil, nil
}

// loadExistingAudioFiles registers audio already present in the persistent
// cache. The sentence text of these files is unknown.
func (p *Plugin) loadExistingAudioFiles() (int, error) {
	entries, err := os.ReadDir(p.persistentCacheDir)
	if err != nil {
		return 0, fmt.Errorf("read preloaded cache: %w", err)
	}
	pattern := "*." + p.audioExt
	cache := p.host.Cache()
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ok, _ := filepath.Match(pattern, name); !ok {
			continue
		}
		sentenceHash, _, _ := strings.Cut(name, ".")
		if sentenceHash == "" {
			continue
		}
		cache.Register(sentenceHash, host.Entry{
			Audio: host.NewAudioFile(p.persistentCacheDir, sentenceHash, p.audioExt),
		})
		count++
	}
	return count, nil
}

func (p *Plugin) Lang() string { return p.lang }

func (p *Plugin) AudioExt() string { return p.audioExt }

func (p *Plugin) Validator() Validator { return p.validator }

// IndexedFiles is the number of audio files found in the persistent cache.
func (p *Plugin) IndexedFiles() int { return p.indexed }

// Close releases the engine.
func (p *Plugin) Close() error {
	return p.engine.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
