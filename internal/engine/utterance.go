package engine

import (
	"strings"
	"sync"
)

// utterance collects plain text between BeginUtterance and EndUtterance.
type utterance struct {
	mu     sync.Mutex
	active bool
	parts  []string
}

func (u *utterance) begin() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.active = true
	u.parts = u.parts[:0]
}

func (u *utterance) add(text string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.active {
		return ErrNoUtterance
	}
	u.parts = append(u.parts, text)
	return nil
}

// end closes the utterance and returns its text.
func (u *utterance) end() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.active {
		return "", ErrNoUtterance
	}
	text := strings.Join(u.parts, " ")
	u.active = false
	u.parts = u.parts[:0]
	return text, nil
}

func emitSegments(data []byte, consume func(Result) error) error {
	segments, err := decodeAudio(data)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if err := consume(&AudioResult{
			SampleRateHz:     seg.Format.SampleRateHz,
			SampleWidthBytes: seg.Format.SampleWidthBytes,
			NumChannels:      seg.Format.NumChannels,
			AudioBytes:       seg.PCM,
		}); err != nil {
			return err
		}
	}
	return nil
}
