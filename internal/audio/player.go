package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Player plays captured PCM through the default output device, for checking
// what the microphone actually heard.
type Player struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32

	mu      sync.Mutex
	device  *malgo.Device
	pending []int16
	drained chan struct{}
}

// NewPlayer creates a player for mono 16-bit audio at sampleRate. Call
// Close when done.
func NewPlayer(sampleRate uint32) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Player{ctx: ctx, sampleRate: sampleRate}, nil
}

// Play queues samples and starts the output device if it is idle. It returns
// a channel closed once everything queued so far has been played.
func (p *Player) Play(samples []int) (<-chan struct{}, error) {
	p.mu.Lock()
	for _, s := range samples {
		p.pending = append(p.pending, int16(s))
	}
	if p.drained == nil {
		p.drained = make(chan struct{})
	}
	drained := p.drained
	running := p.device != nil
	p.mu.Unlock()

	if running {
		return drained, nil
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatS16
	deviceCfg.Playback.Channels = 1
	deviceCfg.SampleRate = p.sampleRate

	device, err := malgo.InitDevice(p.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: p.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("starting playback device: %w", err)
	}

	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
	return drained, nil
}

// Close stops playback and releases all audio resources.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	p.pending = nil
	p.mu.Unlock()

	if p.ctx != nil {
		if err := p.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		p.ctx.Free()
	}
	return nil
}

// onData is the malgo callback asking for frameCount frames of output.
func (p *Player) onData(pOutput, _ []byte, frameCount uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := fill(pOutput, p.pending, int(frameCount))
	p.pending = p.pending[n:]
	if len(p.pending) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// fill writes up to frames samples from src into out as little-endian S16,
// padding with silence, and returns how many samples it consumed.
func fill(out []byte, src []int16, frames int) int {
	n := min(frames, len(src), len(out)/2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(src[i]))
	}
	clear(out[2*n:])
	return n
}
