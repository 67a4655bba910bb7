// Package audio converts the Monocle's microphone captures into formats the
// host can use: WAV for transcription services and speaker playback.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate is the Monocle microphone rate.
const DefaultSampleRate = 8000

// Samples decodes signed 16-bit mono PCM. pcm must have even length.
func Samples(pcm []byte, bigEndian bool) ([]int, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM length %d", len(pcm))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(order.Uint16(pcm[2*i:])))
	}
	return out, nil
}

// EncodeWAV wraps 16-bit mono PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int, bigEndian bool) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	samples, err := Samples(pcm, bigEndian)
	if err != nil {
		return nil, err
	}

	// The encoder seeks back to patch chunk sizes, so it needs a file.
	f, err := os.CreateTemp("", "monolink-*.wav")
	if err != nil {
		return nil, fmt.Errorf("audio: creating temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finishing wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewinding wav: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("audio: reading wav: %w", err)
	}
	return data, nil
}
