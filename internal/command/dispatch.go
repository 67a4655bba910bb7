// Package command assembles the tagged frames the Monocle application sends
// on the data channel while it is running.
package command

import (
	"errors"
	"log/slog"

	"github.com/chaz8081/monolink/internal/ble/protocol"
)

// ErrOddAudioLength is returned when a finished recording cannot be 16-bit PCM.
var ErrOddAudioLength = errors.New("command: audio length is not a whole number of samples")

// Result is something a frame completed. It is nil for frames that only
// update buffers.
type Result interface {
	isResult()
}

// AudioReady is a finished recording, plus the photo taken before it if any.
type AudioReady struct {
	PCM   []byte
	Image []byte
}

// Acknowledged is the device echoing a query id back.
type Acknowledged struct {
	ID string
}

func (AudioReady) isResult()   {}
func (Acknowledged) isResult() {}

// Dispatcher accumulates audio and image fragments. It is not safe for
// concurrent use; the session owns it.
type Dispatcher struct {
	audio []byte
	image []byte
}

// Dispatch applies one frame. Frames too short to carry a tag and unknown
// tags are ignored.
func (d *Dispatcher) Dispatch(frame []byte) (Result, error) {
	tag, payload, ok := protocol.SplitFrame(frame)
	if !ok {
		slog.Debug("[Command] Short frame ignored", "len", len(frame))
		return nil, nil
	}

	switch tag {
	case protocol.TagAudioStart:
		d.audio = d.audio[:0]
		d.image = nil
	case protocol.TagImageStart:
		d.image = d.image[:0]
	case protocol.TagImageEnd:
		// The device sends this in place of ast: once the photo is done.
		d.audio = d.audio[:0]
	case protocol.TagAudioData:
		d.audio = append(d.audio, payload...)
	case protocol.TagImageData:
		d.image = append(d.image, payload...)
	case protocol.TagAudioEnd:
		pcm := d.audio
		image := d.image
		d.audio = nil
		d.image = nil
		if len(pcm)%2 != 0 {
			return nil, ErrOddAudioLength
		}
		return AudioReady{PCM: pcm, Image: image}, nil
	case protocol.TagPong:
		return Acknowledged{ID: string(payload)}, nil
	default:
		slog.Debug("[Command] Unknown tag ignored", "tag", string(tag))
	}
	return nil, nil
}

// Reset drops any partial recording or photo.
func (d *Dispatcher) Reset() {
	d.audio = nil
	d.image = nil
}
