// Package wav assembles PCM frames into an in-memory RIFF/WAVE container.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the canonical PCM WAV header in bytes.
const HeaderSize = 44

const formatPCM = 1

var (
	// ErrFormatNotSet is returned when frames are written, or the writer is
	// closed, before a format was chosen.
	ErrFormatNotSet = errors.New("wav format not set")
	// ErrFormatLocked is returned when the format is changed after the
	// header was written.
	ErrFormatLocked = errors.New("wav format cannot change after the header is written")
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("wav writer closed")
)

// Format describes the PCM layout of every frame in a file.
type Format struct {
	SampleRateHz     int
	SampleWidthBytes int
	NumChannels      int
}

// DefaultFormat is used when nothing else fixed the format: 22050 Hz, 16-bit mono.
var DefaultFormat = Format{SampleRateHz: 22050, SampleWidthBytes: 2, NumChannels: 1}

func (f Format) validate() error {
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRateHz)
	}
	if f.SampleWidthBytes <= 0 || f.SampleWidthBytes > 4 {
		return fmt.Errorf("invalid sample width %d", f.SampleWidthBytes)
	}
	if f.NumChannels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.NumChannels)
	}
	return nil
}

// BytesPerSecond is the PCM data rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.SampleWidthBytes * f.NumChannels
}

// Writer accumulates frames and produces a WAV file on Close. The header is
// emitted once and patched with the final sizes, so the output is always
// parseable after Close regardless of how many frames arrived.
type Writer struct {
	buf       bytes.Buffer
	format    Format
	formatSet bool
	frames    int
	closed    bool
}

// NewWriter returns an empty writer with no format.
func NewWriter() *Writer {
	return &Writer{}
}

// FormatSet reports whether the format has been fixed.
func (w *Writer) FormatSet() bool { return w.formatSet }

// Format returns the current format; the zero value until SetFormat.
func (w *Writer) Format() Format { return w.format }

// SetFormat fixes the container format. It may be called again only until
// the header is written by the first WriteFrames.
func (w *Writer) SetFormat(f Format) error {
	if w.closed {
		return ErrClosed
	}
	if w.buf.Len() > 0 && f != w.format {
		return ErrFormatLocked
	}
	if err := f.validate(); err != nil {
		return err
	}
	w.format = f
	w.formatSet = true
	return nil
}

// WriteFrames appends raw PCM bytes.
func (w *Writer) WriteFrames(p []byte) error {
	if w.closed {
		return ErrClosed
	}
	if !w.formatSet {
		return ErrFormatNotSet
	}
	if w.buf.Len() == 0 {
		w.writeHeader()
	}
	w.buf.Write(p)
	w.frames += len(p)
	return nil
}

// Close finalizes the header. Calling Close twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if !w.formatSet {
		return ErrFormatNotSet
	}
	if w.buf.Len() == 0 {
		w.writeHeader()
	}
	b := w.buf.Bytes()
	binary.LittleEndian.PutUint32(b[4:8], uint32(36+w.frames))
	binary.LittleEndian.PutUint32(b[40:44], uint32(w.frames))
	w.closed = true
	return nil
}

// DataSize is the number of PCM bytes written so far.
func (w *Writer) DataSize() int { return w.frames }

// Bytes returns the file contents. It is only a complete WAV file after Close.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) writeHeader() {
	f := w.format
	header := make([]byte, HeaderSize)

	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.NumChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRateHz))
	binary.LittleEndian.PutUint32(header[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(f.NumChannels*f.SampleWidthBytes))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.SampleWidthBytes*8))

	// sizes are patched in Close
	copy(header[36:40], "data")

	w.buf.Write(header)
}

// Encode wraps pcm in a complete WAV file.
func Encode(pcm []byte, f Format) ([]byte, error) {
	w := NewWriter()
	if err := w.SetFormat(f); err != nil {
		return nil, err
	}
	if err := w.WriteFrames(pcm); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
