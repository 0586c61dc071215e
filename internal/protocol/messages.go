package protocol

import "time"

// TTSRequest asks the node to speak Text. SSML marks Text as markup that
// bypasses text normalization.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target,omitempty"`
	Text      string `json:"text"`
	SSML      bool   `json:"ssml,omitempty"`
}

// AudioChunk carries a slice of synthesized PCM audio.
type AudioChunk struct {
	SessionID        string `json:"session_id"`
	Target           string `json:"target,omitempty"`
	Sequence         int    `json:"sequence"`
	SampleRate       int    `json:"sample_rate"`
	SampleWidthBytes int    `json:"sample_width"`
	Channels         int    `json:"channels"`
	PCM              []byte `json:"pcm"`
	Final            bool   `json:"final"`
}

// TTSStatus closes a request. Error is set when synthesis failed.
type TTSStatus struct {
	SessionID    string    `json:"session_id"`
	Target       string    `json:"target,omitempty"`
	SentenceHash string    `json:"sentence_hash,omitempty"`
	Cached       bool      `json:"cached"`
	Completed    bool      `json:"completed"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)
