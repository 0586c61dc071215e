package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-mimic3/internal/bus"
	"github.com/loqalabs/loqa-mimic3/internal/cache"
	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/loqalabs/loqa-mimic3/internal/eventstore"
	"github.com/loqalabs/loqa-mimic3/internal/host"
	"github.com/loqalabs/loqa-mimic3/internal/normalize"
	"github.com/loqalabs/loqa-mimic3/internal/protocol"
	"github.com/loqalabs/loqa-mimic3/internal/wav"
	"github.com/nats-io/nats.go"
)

var errNoBus = errors.New("tts service requires a bus connection")

// Synthesizer turns sentences into WAV audio.
type Synthesizer interface {
	GetTTS(ctx context.Context, sentence, wavFile string) (string, host.Phonemes, error)
	Synthesize(ctx context.Context, req normalize.Request) ([]byte, error)
}

// SentenceCache stores synthesized sentences by hash.
type SentenceCache interface {
	host.Cache
	AudioFile(sentenceHash string) host.AudioFile
}

// Journal records what happened to each request.
type Journal interface {
	Record(ctx context.Context, evt eventstore.Event) error
}

// Service answers tts.request messages with audio chunks on tts.audio and a
// status on tts.done.
type Service struct {
	cfg     config.TTSConfig
	bus     *bus.Client
	synth   Synthesizer
	cache   SentenceCache
	journal Journal
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, sentences SentenceCache, journal Journal, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		synth:   synth,
		cache:   sentences,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus == nil {
		return errNoBus
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("tts service listening", slog.String("subject", protocol.SubjectTTSRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
		s.process(ctx, req)
	}()
}

func (s *Service) process(ctx context.Context, req protocol.TTSRequest) {
	start := time.Now()
	log := s.logger.With(slog.String("session_id", req.SessionID))
	sentenceHash := requestHash(req)
	status := protocol.TTSStatus{SessionID: req.SessionID, Target: req.Target, SentenceHash: sentenceHash}
	evt := eventstore.Event{SessionID: req.SessionID, SentenceHash: sentenceHash, Voice: s.cfg.Mimic3.Voice}

	data, cached, err := s.audio(ctx, req, sentenceHash)
	if err == nil {
		err = s.publishAudio(req, data)
	}
	evt.Duration = time.Since(start)

	switch {
	case err != nil:
		log.Warn("tts request failed", slogError(err))
		status.Error = err.Error()
		evt.Type = eventstore.TypeFailed
		evt.Error = err.Error()
	case cached:
		log.Debug("served sentence from cache", slog.String("sentence_hash", sentenceHash))
		status.Completed, status.Cached = true, true
		evt.Type = eventstore.TypeCacheHit
		evt.AudioBytes = len(data)
	default:
		status.Completed = true
		evt.Type = eventstore.TypeSynthesized
		evt.AudioBytes = len(data)
	}

	status.Timestamp = time.Now().UTC()
	s.publish(protocol.SubjectTTSDone, status)

	if s.journal != nil {
		if err := s.journal.Record(context.WithoutCancel(ctx), evt); err != nil {
			log.Warn("failed to record tts event", slogError(err))
		}
	}
}

// audio returns the WAV file for req, synthesizing and caching it on a miss.
func (s *Service) audio(ctx context.Context, req protocol.TTSRequest, sentenceHash string) ([]byte, bool, error) {
	if entry, ok := s.cache.Lookup(sentenceHash); ok {
		data, err := os.ReadFile(entry.Audio.Path)
		if err == nil {
			return data, true, nil
		}
		s.logger.Warn("cached audio unreadable, synthesizing again", slogError(err))
	}

	file := s.cache.AudioFile(sentenceHash)
	var phonemes host.Phonemes
	if req.SSML {
		data, err := s.synth.Synthesize(ctx, normalize.Request{Text: req.Text, SSML: true})
		if err != nil {
			return nil, false, err
		}
		if err := wav.WriteFile(file.Path, data); err != nil {
			return nil, false, fmt.Errorf("write wav file: %w", err)
		}
	} else {
		var err error
		if _, phonemes, err = s.synth.GetTTS(ctx, req.Text, file.Path); err != nil {
			return nil, false, err
		}
	}

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, false, fmt.Errorf("read synthesized audio: %w", err)
	}
	s.cache.Register(sentenceHash, host.Entry{Audio: file, Phonemes: phonemes})
	return data, false, nil
}

func (s *Service) publishAudio(req protocol.TTSRequest, data []byte) error {
	seg, err := wav.Decode(data)
	if err != nil {
		return err
	}
	chunks := SplitPCM(seg, s.cfg.ChunkDurationMS)
	for i, pcm := range chunks {
		s.publish(protocol.SubjectTTSAudio, protocol.AudioChunk{
			SessionID:        req.SessionID,
			Target:           req.Target,
			Sequence:         i,
			SampleRate:       seg.Format.SampleRateHz,
			SampleWidthBytes: seg.Format.SampleWidthBytes,
			Channels:         seg.Format.NumChannels,
			PCM:              pcm,
			Final:            i == len(chunks)-1,
		})
	}
	return nil
}

func (s *Service) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal message", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish message", slog.String("subject", subject), slogError(err))
	}
}

// SplitPCM cuts seg into chunks of about durationMS, never splitting a frame.
// It always returns at least one chunk so a final marker can be sent.
func SplitPCM(seg wav.Segment, durationMS int) [][]byte {
	frame := seg.Format.SampleWidthBytes * seg.Format.NumChannels
	if frame <= 0 {
		frame = 1
	}
	size := seg.Format.BytesPerSecond() * durationMS / 1000
	size -= size % frame
	if size <= 0 {
		size = frame
	}
	if len(seg.PCM) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for off := 0; off < len(seg.PCM); off += size {
		end := min(off+size, len(seg.PCM))
		chunks = append(chunks, seg.PCM[off:end])
	}
	return chunks
}

// requestHash keys the cache. Markup is hashed apart from plain text so the
// same string spoken both ways does not collide.
func requestHash(req protocol.TTSRequest) string {
	if req.SSML {
		return cache.HashSentence("ssml:" + req.Text)
	}
	return cache.HashSentence(req.Text)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
