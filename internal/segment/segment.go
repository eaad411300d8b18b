// Package segment slices the other-channel stream into back-to-back,
// independently decodable audio units for batch transcription.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// Segment is one complete encoded unit of other-channel audio.
// Immutable after creation; ownership passes to the dispatcher and the
// bytes are discarded after the transcription request, successful or
// not.
type Segment struct {
	ID         string
	Payload    []byte
	CapturedAt time.Time
}

// PCM returns the raw sample bytes behind the container header.
func (s Segment) PCM() []byte {
	if len(s.Payload) < wavHeaderSize {
		return nil
	}
	return s.Payload[wavHeaderSize:]
}

// Duration reports the audio length from the sample count.
func (s Segment) Duration() time.Duration {
	samples := len(s.PCM()) / (media.BytesPerSample * media.Channels)
	return time.Duration(samples) * time.Second / media.SampleRate
}

// Dump writes the segment as a timestamped debug artifact under dir.
func Dump(dir string, seg Segment) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	name := fmt.Sprintf("segment-%s-%s.wav", seg.CapturedAt.Format("20060102-150405.000"), seg.ID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, seg.Payload, 0o600); err != nil {
		return "", fmt.Errorf("write debug segment %q: %w", path, err)
	}
	return path, nil
}
