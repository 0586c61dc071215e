package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-mimic3/internal/engine"
	"github.com/loqalabs/loqa-mimic3/internal/normalize"
	"github.com/loqalabs/loqa-mimic3/internal/wav"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrFormatMismatch is returned when a chunk's format differs from the
// format fixed by the first chunk.
var ErrFormatMismatch = errors.New("audio chunk format differs from first chunk")

// Synthesize speaks req and returns a WAV file. The first audio chunk fixes
// the container format; with no audio the default format is used.
//
// On error the returned bytes are still a complete WAV file holding whatever
// audio arrived before the failure.
func (p *Plugin) Synthesize(ctx context.Context, req normalize.Request) (wavBytes []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := p.tracer.Start(ctx, "mimic3.synthesize", trace.WithAttributes(
		attribute.Bool("tts.ssml", req.SSML),
		attribute.Int("tts.text_length", len(req.Text)),
	))
	start := time.Now()

	w := wav.NewWriter()
	defer func() {
		if !w.FormatSet() {
			_ = w.SetFormat(wav.DefaultFormat)
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
		wavBytes = w.Bytes()
		p.observe(ctx, span, start, w.DataSize(), req.SSML, err)
	}()

	if err := p.speak(ctx, req, func(r engine.Result) error {
		return appendAudio(w, r)
	}); err != nil {
		return nil, fmt.Errorf("mimic3 synthesis: %w", err)
	}
	return nil, nil
}

func (p *Plugin) speak(ctx context.Context, req normalize.Request, consume func(engine.Result) error) error {
	if req.SSML {
		return p.engine.SpeakSSML(ctx, req.Text, consume)
	}
	if err := p.engine.BeginUtterance(); err != nil {
		return err
	}
	if err := p.engine.SpeakText(ctx, req.Text); err != nil {
		return err
	}
	return p.engine.EndUtterance(ctx, consume)
}

// appendAudio adds audio results to w and skips every other result kind.
func appendAudio(w *wav.Writer, r engine.Result) error {
	audio, ok := r.(*engine.AudioResult)
	if !ok {
		return nil
	}
	f := wav.Format{
		SampleRateHz:     audio.SampleRateHz,
		SampleWidthBytes: audio.SampleWidthBytes,
		NumChannels:      audio.NumChannels,
	}
	if !w.FormatSet() {
		if err := w.SetFormat(f); err != nil {
			return fmt.Errorf("audio format: %w", err)
		}
	} else if f != w.Format() {
		return fmt.Errorf("%w: got %+v, want %+v", ErrFormatMismatch, f, w.Format())
	}
	return w.WriteFrames(audio.AudioBytes)
}

func (p *Plugin) observe(ctx context.Context, span trace.Span, start time.Time, audioBytes int, ssml bool, err error) {
	defer span.End()
	elapsed := time.Since(start)
	attrs := metric.WithAttributes(attribute.Bool("tts.ssml", ssml))
	span.SetAttributes(attribute.Int("tts.audio_bytes", audioBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.metrics.failures != nil {
			p.metrics.failures.Add(ctx, 1, attrs)
		}
		p.log.Warn("synthesis failed", slogError(err), slog.Duration("elapsed", elapsed))
		return
	}
	if p.metrics.syntheses != nil {
		p.metrics.syntheses.Add(ctx, 1, attrs)
	}
	if p.metrics.duration != nil {
		p.metrics.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	p.log.Debug("synthesis complete", slog.Int("audio_bytes", audioBytes), slog.Duration("elapsed", elapsed))
}
