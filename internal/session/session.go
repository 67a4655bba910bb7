// Package session orchestrates a connected Monocle: it enters the raw REPL,
// brings firmware, FPGA image and application scripts up to date, and then
// relays captures between the device and the AI services.
//
// All state lives on one goroutine (Machine.Run). Link callbacks, timers,
// service results and host requests are delivered to it as events.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/monolink/internal/ai"
	"github.com/chaz8081/monolink/internal/audio"
	"github.com/chaz8081/monolink/internal/ble/protocol"
	"github.com/chaz8081/monolink/internal/chatlog"
	"github.com/chaz8081/monolink/internal/command"
	"github.com/chaz8081/monolink/internal/dfu"
	"github.com/chaz8081/monolink/internal/matcher"
	"github.com/chaz8081/monolink/internal/scripts"
)

// Transport is the link to the device. Send must not block.
type Transport interface {
	Send(ch protocol.Channel, data []byte)
	// MaxPayload is the largest single write, if known.
	MaxPayload() (int, bool)
	// SetBootloaderScan turns looking for a device in DFU mode on or off.
	SetBootloaderScan(on bool)
}

// Messages receives chat entries.
type Messages interface {
	Put(m chatlog.Message) error
	Clear() error
}

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, mode ai.Mode) (string, error)
}

// Converser answers a query, keeping its own history.
type Converser interface {
	Converse(ctx context.Context, query string, mode ai.Mode) (string, error)
	ClearHistory()
}

// ImageTransformer renders a new image from a photo and a prompt.
type ImageTransformer interface {
	Transform(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

// Player plays decoded captures for debugging.
type Player interface {
	Play(samples []int) (<-chan struct{}, error)
}

// Collaborators are the services a Machine drives. Transport is required.
// A nil Observer logs; nil Messages are discarded; a nil AI service fails
// every request with a service error.
type Collaborators struct {
	Transport   Transport
	Observer    Observer
	Messages    Messages
	Transcriber Transcriber
	Converser   Converser
	Images      ImageTransformer
	Flasher     dfu.Flasher
	Player      Player
}

// Options tunes a Machine.
type Options struct {
	// Required versions; empty accepts whatever the device runs.
	RequiredFirmware string
	RequiredImage    string

	// Payloads at or below MinPayload are too small for an FPGA update.
	MinPayload int

	// ShellEntryDelay lets the device's receive path settle after connecting.
	ShellEntryDelay time.Duration
	// ChunkPacing is waited before a chunk whenever progress moves a point.
	ChunkPacing time.Duration

	Deployment      scripts.Deployment
	VersionVariable string

	// Image returns the base64 FPGA image.
	Image func() (string, error)

	Mode       ai.Mode
	SampleRate int
	BigEndian  bool
}

// DefaultOptions returns sensible defaults. Deployment and Image must still
// be provided.
func DefaultOptions() Options {
	return Options{
		RequiredFirmware: "v23.248.0754",
		RequiredImage:    "v23.230.0808",
		MinPayload:       100,
		ShellEntryDelay:  100 * time.Millisecond,
		ChunkPacing:      20 * time.Millisecond,
		VersionVariable:  scripts.DefaultVariable,
		Mode:             ai.ModeAssistant,
		SampleRate:       audio.DefaultSampleRate,
	}
}

var errNotConfigured = errors.New("not configured")

// Machine is the session actor. It implements ble.Handler.
type Machine struct {
	c    Collaborators
	opts Options
	dfu  *dfu.Coordinator

	events chan event
	done   chan struct{}
	ctx    context.Context

	// Owned by the Run goroutine.
	state      State
	gen        uint64
	firmware   string // "" when unknown
	image      string
	response   []byte
	marker     *matcher.Matcher
	errMarker  *matcher.Matcher
	status     Status
	progress   int
	mode       ai.Mode
	dispatcher command.Dispatcher
	pending    *command.Correlator

	mu       sync.Mutex
	snapshot State
}

// New returns a Machine in the Disconnected state. Call Run to start it.
func New(c Collaborators, opts Options) *Machine {
	if c.Observer == nil {
		c.Observer = LogObserver{}
	}
	if c.Messages == nil {
		c.Messages = discard{}
	}
	m := &Machine{
		c:        c,
		opts:     opts,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		state:    Disconnected{},
		snapshot: Disconnected{},
		mode:     opts.Mode,
		pending:  command.NewCorrelator(),
	}
	if c.Flasher != nil {
		m.dfu = dfu.NewCoordinator(c.Flasher)
	}
	return m
}

// Run processes events until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)
	slog.Info("[Session] Started", "mode", m.mode.String(), "version", m.opts.Deployment.Version)

	for {
		select {
		case <-ctx.Done():
			if m.dfu != nil {
				m.dfu.Abort()
			}
			slog.Info("[Session] Stopped")
			return nil
		case ev := <-m.events:
			ev.apply(m)
		}
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// Link callbacks. They only enqueue.

func (m *Machine) DeviceConnected()                   { m.post(connected{}) }
func (m *Machine) DeviceDisconnected()                { m.post(disconnected{}) }
func (m *Machine) BootloaderConnected(address string) { m.post(bootloaderConnected{address}) }
func (m *Machine) SerialReceived(data []byte)         { m.post(serialReceived{string(data)}) }
func (m *Machine) DataReceived(data []byte) {
	m.post(dataReceived{append([]byte(nil), data...)})
}

// SubmitQuery asks the chat service directly, without a device round trip.
func (m *Machine) SubmitQuery(text string) { m.post(hostQuery{text}) }

// SetMode switches between assistant and translator. Changing mode clears
// the chat history.
func (m *Machine) SetMode(mode ai.Mode) { m.post(modeChange{mode}) }

// ClearHistory clears the chat log and the chat service's context.
func (m *Machine) ClearHistory() { m.post(historyClear{}) }

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// after runs fn on the session goroutine once d has passed, unless the
// session has transitioned in the meantime.
func (m *Machine) after(d time.Duration, fn func()) {
	gen := m.gen
	time.AfterFunc(d, func() {
		m.post(timer{gen: gen, fn: fn})
	})
}

// transition enters s, discarding any marker the previous state waited on.
func (m *Machine) transition(s State) {
	prev := m.state
	m.gen++
	m.marker = nil
	m.errMarker = nil
	m.replace(s)
	slog.Debug("[Session] Transition", "from", Name(prev), "to", Name(s), "gen", m.gen)
	m.enter(s)
}

// replace updates the data of the current state without a transition.
func (m *Machine) replace(s State) {
	m.state = s
	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()
}

func (m *Machine) setStatus(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.c.Observer.StatusChanged(s)
}

// startProgress begins a new update phase at p.
func (m *Machine) startProgress(p int) {
	m.progress = p
	m.c.Observer.ProgressChanged(p)
}

// setProgress reports p if it moves progress forward.
func (m *Machine) setProgress(p int) {
	if p <= m.progress {
		return
	}
	m.progress = p
	m.c.Observer.ProgressChanged(p)
}

func (m *Machine) sendCommand(stmt string) {
	m.c.Transport.Send(protocol.ChannelSerial, protocol.Command(stmt))
}

func (m *Machine) report(e *Error) {
	slog.Warn("[Session] "+e.Op+" failed", "kind", e.Kind.String(), "error", e.Err)
}

type discard struct{}

func (discard) Put(chatlog.Message) error { return nil }
func (discard) Clear() error              { return nil }
