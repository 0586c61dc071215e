package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWriterZeroFramesDefaultFormat(t *testing.T) {
	w := NewWriter()
	if err := w.SetFormat(DefaultFormat); err != nil {
		t.Fatalf("set format: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b := w.Bytes()
	if len(b) != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatalf("malformed header: %q", b[:40])
	}
	if got := binary.LittleEndian.Uint32(b[4:8]); got != 36 {
		t.Fatalf("expected riff size 36, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 22050 {
		t.Fatalf("expected 22050 Hz, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(b[22:24]); got != 1 {
		t.Fatalf("expected mono, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(b[34:36]); got != 16 {
		t.Fatalf("expected 16 bits, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:44]); got != 0 {
		t.Fatalf("expected empty data chunk, got %d", got)
	}
}

func TestWriterConcatenatesFrames(t *testing.T) {
	w := NewWriter()
	f := Format{SampleRateHz: 16000, SampleWidthBytes: 2, NumChannels: 2}
	if err := w.SetFormat(f); err != nil {
		t.Fatal(err)
	}
	chunks := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8, 9, 10, 11, 12}, {13, 14, 15, 16}}
	for _, c := range chunks {
		if err := w.WriteFrames(c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b := w.Bytes()
	if got := binary.LittleEndian.Uint32(b[40:44]); got != 16 {
		t.Fatalf("expected data size 16, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[28:32]); got != 64000 {
		t.Fatalf("expected byte rate 64000, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(b[32:34]); got != 4 {
		t.Fatalf("expected block align 4, got %d", got)
	}
	want := bytes.Join(chunks, nil)
	if !bytes.Equal(b[HeaderSize:], want) {
		t.Fatalf("frames out of order: %v", b[HeaderSize:])
	}
}

func TestWriterRequiresFormat(t *testing.T) {
	w := NewWriter()
	if err := w.WriteFrames([]byte{0, 0}); !errors.Is(err, ErrFormatNotSet) {
		t.Fatalf("expected ErrFormatNotSet, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrFormatNotSet) {
		t.Fatalf("expected ErrFormatNotSet on close, got %v", err)
	}
}

func TestWriterFormatLockedAfterFrames(t *testing.T) {
	w := NewWriter()
	if err := w.SetFormat(DefaultFormat); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrames([]byte{0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.SetFormat(Format{SampleRateHz: 44100, SampleWidthBytes: 2, NumChannels: 1}); !errors.Is(err, ErrFormatLocked) {
		t.Fatalf("expected ErrFormatLocked, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrames([]byte{0, 0}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFormatLockedAfterEmptyWrite(t *testing.T) {
	w := NewWriter()
	if err := w.SetFormat(Format{SampleRateHz: 16000, SampleWidthBytes: 2, NumChannels: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrames(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.SetFormat(Format{SampleRateHz: 44100, SampleWidthBytes: 2, NumChannels: 2}); !errors.Is(err, ErrFormatLocked) {
		t.Fatalf("expected ErrFormatLocked, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b := w.Bytes()
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != 16000 || w.Format().SampleRateHz != 16000 {
		t.Fatalf("header rate %d and format %+v disagree", rate, w.Format())
	}
	if ch := binary.LittleEndian.Uint16(b[22:24]); ch != 1 {
		t.Fatalf("expected mono header, got %d channels", ch)
	}
}

func TestSetFormatRejectsInvalid(t *testing.T) {
	w := NewWriter()
	if err := w.SetFormat(Format{SampleRateHz: 22050, SampleWidthBytes: 0, NumChannels: 1}); err == nil {
		t.Fatal("expected error for zero sample width")
	}
	if w.FormatSet() {
		t.Fatal("invalid format must not be recorded")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	pcm := make([]byte, 200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	f := Format{SampleRateHz: 22050, SampleWidthBytes: 2, NumChannels: 1}
	data, err := Encode(pcm, f)
	if err != nil {
		t.Fatal(err)
	}
	seg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.Format != f {
		t.Fatalf("unexpected format %+v", seg.Format)
	}
	if !bytes.Equal(seg.PCM, pcm) {
		t.Fatalf("pcm mismatch: got %d bytes", len(seg.PCM))
	}
}

func TestDecodeStreamSplitsFiles(t *testing.T) {
	f := Format{SampleRateHz: 22050, SampleWidthBytes: 2, NumChannels: 1}
	first, _ := Encode([]byte{1, 0, 2, 0}, f)
	second, _ := Encode([]byte{3, 0, 4, 0, 5, 0}, f)

	segments, err := DecodeStream(append(append([]byte{}, first...), second...))
	if err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if !bytes.Equal(segments[0].PCM, []byte{1, 0, 2, 0}) || !bytes.Equal(segments[1].PCM, []byte{3, 0, 4, 0, 5, 0}) {
		t.Fatalf("unexpected segments: %+v", segments)
	}
}

func TestDecodeStreamRejectsGarbage(t *testing.T) {
	if _, err := DecodeStream([]byte("not a wav file at all")); !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("expected ErrInvalidFile, got %v", err)
	}
}
