package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-mimic3/internal/bus"
	"github.com/loqalabs/loqa-mimic3/internal/cache"
	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/loqalabs/loqa-mimic3/internal/engine"
	"github.com/loqalabs/loqa-mimic3/internal/eventstore"
	"github.com/loqalabs/loqa-mimic3/internal/host"
	"github.com/loqalabs/loqa-mimic3/internal/natsserver"
	"github.com/loqalabs/loqa-mimic3/internal/normalize"
	"github.com/loqalabs/loqa-mimic3/internal/plugin"
	"github.com/loqalabs/loqa-mimic3/internal/protocol"
	"github.com/loqalabs/loqa-mimic3/internal/wav"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	bus     *bus.Client
	cache   *cache.Cache
	journal *eventstore.Store
	msgs    chan *nats.Msg
}

func newHarness(t *testing.T, synth func(*cache.Cache) Synthesizer) *harness {
	t.Helper()
	log := newLogger()

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, "tts-test", log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	sentences, err := cache.New(t.TempDir(), "wav", 16, log)
	if err != nil {
		t.Fatal(err)
	}
	journal, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	cfg := config.Default().TTS
	cfg.ChunkDurationMS = 100
	cfg.TimeoutMS = 5000

	svc := NewService(context.Background(), cfg, client, synth(sentences), sentences, journal, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	msgs := make(chan *nats.Msg, 64)
	sub, err := client.Conn().ChanSubscribe("tts.>", msgs)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	return &harness{bus: client, cache: sentences, journal: journal, msgs: msgs}
}

func mockSynth(t *testing.T) func(*cache.Cache) Synthesizer {
	return func(c *cache.Cache) Synthesizer {
		p, err := plugin.New(context.Background(), plugin.Options{}, engine.NewMock(), cache.NewHost(c), newLogger())
		if err != nil {
			t.Fatalf("new plugin: %v", err)
		}
		return p
	}
}

func (h *harness) request(t *testing.T, req protocol.TTSRequest) ([]protocol.AudioChunk, protocol.TTSStatus) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.bus.Conn().Publish(protocol.SubjectTTSRequest, data); err != nil {
		t.Fatal(err)
	}

	var chunks []protocol.AudioChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-h.msgs:
			switch msg.Subject {
			case protocol.SubjectTTSAudio:
				var chunk protocol.AudioChunk
				if err := json.Unmarshal(msg.Data, &chunk); err != nil {
					t.Fatal(err)
				}
				chunks = append(chunks, chunk)
			case protocol.SubjectTTSDone:
				var status protocol.TTSStatus
				if err := json.Unmarshal(msg.Data, &status); err != nil {
					t.Fatal(err)
				}
				return chunks, status
			}
		case <-timeout:
			t.Fatal("timed out waiting for tts.done")
		}
	}
}

func TestServiceSynthesizesThenServesFromCache(t *testing.T) {
	h := newHarness(t, mockSynth(t))
	text := "hello world, this is a test"

	chunks, status := h.request(t, protocol.TTSRequest{SessionID: "s-1", Text: text})
	if !status.Completed || status.Cached || status.Error != "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.SentenceHash != cache.HashSentence(text) {
		t.Fatalf("unexpected hash %s", status.SentenceHash)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks of 100ms, got %d", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if c.Sequence != i || c.SessionID != "s-1" || c.SampleRate != 22050 || c.Channels != 1 {
			t.Fatalf("unexpected chunk %d: %+v", i, c)
		}
		if c.Final != (i == len(chunks)-1) {
			t.Fatalf("final flag wrong on chunk %d", i)
		}
		total += len(c.PCM)
	}

	entry, ok := h.cache.Lookup(status.SentenceHash)
	if !ok {
		t.Fatal("expected synthesized sentence cached")
	}
	data, err := os.ReadFile(entry.Audio.Path)
	if err != nil {
		t.Fatal(err)
	}
	if total != len(data)-wav.HeaderSize {
		t.Fatalf("published %d bytes, file holds %d", total, len(data)-wav.HeaderSize)
	}

	_, status = h.request(t, protocol.TTSRequest{SessionID: "s-1", Text: text})
	if !status.Completed || !status.Cached {
		t.Fatalf("expected cache hit, got %+v", status)
	}

	// The journal is written after tts.done goes out.
	deadline := time.Now().Add(2 * time.Second)
	var events []eventstore.Event
	for time.Now().Before(deadline) {
		events, err = h.journal.ListSessionEvents(context.Background(), "s-1", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(events) != 2 || events[0].Type != eventstore.TypeSynthesized || events[1].Type != eventstore.TypeCacheHit {
		t.Fatalf("unexpected journal %+v", events)
	}
}

func TestServiceAssignsSessionID(t *testing.T) {
	h := newHarness(t, mockSynth(t))
	chunks, status := h.request(t, protocol.TTSRequest{Text: "hi"})
	if status.SessionID == "" {
		t.Fatal("expected generated session id")
	}
	for _, c := range chunks {
		if c.SessionID != status.SessionID {
			t.Fatalf("chunk session %q does not match %q", c.SessionID, status.SessionID)
		}
	}
}

func TestServiceSpeaksSSML(t *testing.T) {
	h := newHarness(t, mockSynth(t))
	_, status := h.request(t, protocol.TTSRequest{SessionID: "s-ssml", Text: "<speak>hi</speak>", SSML: true})
	if !status.Completed || status.Error != "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.SentenceHash == cache.HashSentence("<speak>hi</speak>") {
		t.Fatal("markup must not share the plain text cache key")
	}
}

func TestServiceConcurrentRequestsForSameSentence(t *testing.T) {
	h := newHarness(t, mockSynth(t))
	const n = 8
	for i := 0; i < n; i++ {
		data, err := json.Marshal(protocol.TTSRequest{SessionID: fmt.Sprintf("s-%d", i), Text: "hi"})
		if err != nil {
			t.Fatal(err)
		}
		if err := h.bus.Conn().Publish(protocol.SubjectTTSRequest, data); err != nil {
			t.Fatal(err)
		}
	}

	done := 0
	timeout := time.After(5 * time.Second)
	for done < n {
		select {
		case msg := <-h.msgs:
			if msg.Subject != protocol.SubjectTTSDone {
				continue
			}
			var status protocol.TTSStatus
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				t.Fatal(err)
			}
			if !status.Completed || status.Error != "" {
				t.Fatalf("request %s failed: %+v", status.SessionID, status)
			}
			done++
		case <-timeout:
			t.Fatalf("only %d of %d requests finished", done, n)
		}
	}
}

type failingSynth struct{}

func (failingSynth) GetTTS(context.Context, string, string) (string, host.Phonemes, error) {
	return "", nil, errors.New("voice not installed")
}

func (failingSynth) Synthesize(context.Context, normalize.Request) ([]byte, error) {
	return nil, errors.New("voice not installed")
}

func TestServiceReportsFailure(t *testing.T) {
	h := newHarness(t, func(*cache.Cache) Synthesizer { return failingSynth{} })
	chunks, status := h.request(t, protocol.TTSRequest{SessionID: "s-err", Text: "hello"})
	if len(chunks) != 0 {
		t.Fatalf("expected no audio, got %d chunks", len(chunks))
	}
	if status.Completed || status.Error == "" {
		t.Fatalf("expected failed status, got %+v", status)
	}
	if h.cache.Len() != 0 {
		t.Fatal("failed synthesis must not be cached")
	}
}

func TestSplitPCM(t *testing.T) {
	seg := wav.Segment{Format: wav.DefaultFormat, PCM: make([]byte, 10000)}
	chunks := SplitPCM(seg, 100)
	if len(chunks) != 3 || len(chunks[0]) != 4410 || len(chunks[1]) != 4410 || len(chunks[2]) != 1180 {
		t.Fatalf("unexpected split %d", len(chunks))
	}

	empty := SplitPCM(wav.Segment{Format: wav.DefaultFormat}, 100)
	if len(empty) != 1 || len(empty[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %v", empty)
	}

	stereo := wav.Format{SampleRateHz: 10, SampleWidthBytes: 2, NumChannels: 2}
	for _, c := range SplitPCM(wav.Segment{Format: stereo, PCM: make([]byte, 40)}, 150) {
		if len(c)%4 != 0 {
			t.Fatalf("chunk of %d bytes splits a frame", len(c))
		}
	}
}
