package trim

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCClassifier classifies frames with the WebRTC voice activity detector.
type WebRTCClassifier struct {
	vad  *webrtcvad.VAD
	mode int
	buf  []byte
}

// NewWebRTCClassifier creates a detector with aggressiveness mode 0..3.
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("mode must be between 0 and 3")
	}

	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	return &WebRTCClassifier{vad: vad, mode: mode}, nil
}

func (w *WebRTCClassifier) IsSpeech(frame []int16, sampleRate int) (bool, error) {
	w.buf = int16ToBytes(w.buf[:0], frame)

	active, err := w.vad.Process(sampleRate, w.buf)
	if err != nil {
		return false, fmt.Errorf("VAD processing failed: %w", err)
	}
	return active, nil
}

// Mode returns the aggressiveness mode.
func (w *WebRTCClassifier) Mode() int {
	return w.mode
}

// int16ToBytes appends samples to dst as little-endian bytes.
func int16ToBytes(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = append(dst, byte(s), byte(s>>8))
	}
	return dst
}
