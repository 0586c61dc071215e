package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	gowav "github.com/go-audio/wav"
)

// ErrInvalidFile is returned when bytes do not hold a RIFF/WAVE file.
var ErrInvalidFile = errors.New("invalid wav file")

// Segment is the PCM payload of one decoded WAV file.
type Segment struct {
	Format Format
	PCM    []byte
}

// Decode reads a single WAV file.
func Decode(data []byte) (Segment, error) {
	d := gowav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Segment{}, ErrInvalidFile
	}
	if err := d.FwdToPCM(); err != nil {
		return Segment{}, fmt.Errorf("locate pcm data: %w", err)
	}
	pcm, err := io.ReadAll(io.LimitReader(d.PCMChunk, int64(d.PCMSize)))
	if err != nil {
		return Segment{}, fmt.Errorf("read pcm data: %w", err)
	}
	return Segment{
		Format: Format{
			SampleRateHz:     int(d.SampleRate),
			SampleWidthBytes: int(d.BitDepth) / 8,
			NumChannels:      int(d.NumChans),
		},
		PCM: pcm,
	}, nil
}

// DecodeStream splits back-to-back WAV files, as written by engines that emit
// one file per sentence, and decodes each in order.
func DecodeStream(data []byte) ([]Segment, error) {
	var segments []Segment
	for len(data) > 0 {
		if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
			return segments, ErrInvalidFile
		}
		end := 8 + int(binary.LittleEndian.Uint32(data[4:8]))
		// Streamed headers may carry placeholder sizes.
		if end < HeaderSize || end > len(data) {
			end = len(data)
		}
		seg, err := Decode(data[:end])
		if err != nil {
			return segments, err
		}
		segments = append(segments, seg)
		data = data[end:]
	}
	return segments, nil
}
