package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-mimic3/internal/wav"
	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand is returned when the mimic3 command line is blank.
var ErrEmptyCommand = errors.New("tts command empty")

// execEngine runs the mimic3 command line tool once per synthesis, writing
// text to stdin and reading WAV audio from stdout.
type execEngine struct {
	cmd      []string
	settings Settings
	logger   *slog.Logger
	utt      utterance
	mu       sync.Mutex
	closed   bool
}

func NewExec(command string, settings Settings, logger *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return &execEngine{
		cmd:      args,
		settings: settings,
		logger:   logger.With(slog.String("component", "mimic3-exec")),
	}, nil
}

func (e *execEngine) PreloadVoice(ctx context.Context, voice string) error {
	// mimic3 downloads and loads a voice on first use; a one-word run is enough.
	if _, err := e.run(ctx, "test", false, voice); err != nil {
		return fmt.Errorf("preload voice %s: %w", voice, err)
	}
	e.logger.Info("voice preloaded", slog.String("voice", voice))
	return nil
}

func (e *execEngine) SpeakSSML(ctx context.Context, ssml string, consume func(Result) error) error {
	out, err := e.run(ctx, ssml, true, "")
	if err != nil {
		return err
	}
	return emitSegments(out, consume)
}

func (e *execEngine) BeginUtterance() error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	e.utt.begin()
	return nil
}

func (e *execEngine) SpeakText(_ context.Context, text string) error {
	return e.utt.add(text)
}

func (e *execEngine) EndUtterance(ctx context.Context, consume func(Result) error) error {
	text, err := e.utt.end()
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	out, err := e.run(ctx, text, false, "")
	if err != nil {
		return err
	}
	return emitSegments(out, consume)
}

func (e *execEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *execEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// args builds the mimic3 flags for one run.
func (e *execEngine) args(ssml bool, voice string) []string {
	s := e.settings
	args := append([]string{}, e.cmd[1:]...)
	if v := s.voiceFor(voice); v != "" {
		args = append(args, "--voice", v)
	}
	if s.Speaker != "" {
		args = append(args, "--speaker", s.Speaker)
	}
	for _, dir := range s.VoicesDirectories {
		args = append(args, "--voices-dir", dir)
	}
	if s.VoicesURLFormat != "" {
		args = append(args, "--voices-url-format", s.VoicesURLFormat)
	}
	if s.VoicesDownloadDir != "" {
		args = append(args, "--voices-download-dir", s.VoicesDownloadDir)
	}
	if s.LengthScale != nil {
		args = append(args, "--length-scale", formatFloat(*s.LengthScale))
	}
	if s.NoiseScale != nil {
		args = append(args, "--noise-scale", formatFloat(*s.NoiseScale))
	}
	if s.NoiseW != nil {
		args = append(args, "--noise-w", formatFloat(*s.NoiseW))
	}
	if s.UseDeterministicCompute {
		args = append(args, "--deterministic")
	}
	if ssml {
		args = append(args, "--ssml")
	}
	return append(args, "--stdout")
}

func (e *execEngine) run(ctx context.Context, input string, ssml bool, voice string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	args := e.args(ssml, voice)
	e.logger.Debug("running mimic3",
		slog.String("binary", e.cmd[0]),
		slog.Bool("ssml", ssml),
		slog.Int("text_length", len(input)),
	)

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	command.Stdin = strings.NewReader(input)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mimic3 command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func decodeAudio(data []byte) ([]wav.Segment, error) {
	if len(data) == 0 {
		return nil, nil
	}
	segments, err := wav.DecodeStream(data)
	if err != nil {
		return nil, fmt.Errorf("decode engine audio: %w", err)
	}
	return segments, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
