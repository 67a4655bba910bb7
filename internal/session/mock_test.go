package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/monolink/internal/ai"
	"github.com/chaz8081/monolink/internal/ble/protocol"
	"github.com/chaz8081/monolink/internal/chatlog"
	"github.com/chaz8081/monolink/internal/scripts"
)

type sent struct {
	ch   protocol.Channel
	data string
}

// mockTransport records everything the session sends.
type mockTransport struct {
	mu      sync.Mutex
	sent    []sent
	payload int
	known   bool
	scans   []bool
}

func newMockTransport(payload int) *mockTransport {
	return &mockTransport{payload: payload, known: payload > 0}
}

func (t *mockTransport) Send(ch protocol.Channel, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sent{ch: ch, data: string(data)})
}

func (t *mockTransport) MaxPayload() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.payload, t.known
}

func (t *mockTransport) SetBootloaderScan(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scans = append(t.scans, on)
}

func (t *mockTransport) on(ch protocol.Channel) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, s := range t.sent {
		if s.ch == ch {
			out = append(out, s.data)
		}
	}
	return out
}

func (t *mockTransport) serial() []string { return t.on(protocol.ChannelSerial) }
func (t *mockTransport) data() []string   { return t.on(protocol.ChannelData) }

func (t *mockTransport) lastSerial() string {
	s := t.serial()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (t *mockTransport) scanCalls() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.scans...)
}

// recordingObserver keeps every status and progress report.
type recordingObserver struct {
	mu        sync.Mutex
	statuses  []Status
	progress  []int
	connected []bool
}

func (o *recordingObserver) StatusChanged(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *recordingObserver) ProgressChanged(p int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, p)
}

func (o *recordingObserver) ConnectionChanged(c bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = append(o.connected, c)
}

func (o *recordingObserver) status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.statuses) == 0 {
		return NotReady
	}
	return o.statuses[len(o.statuses)-1]
}

func (o *recordingObserver) progressReports() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.progress...)
}

// memoryMessages keeps stored chat messages, skipping typing placeholders.
type memoryMessages struct {
	mu      sync.Mutex
	msgs    []chatlog.Message
	cleared int
}

func (m *memoryMessages) Put(msg chatlog.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !msg.Typing {
		m.msgs = append(m.msgs, msg)
	}
	return nil
}

func (m *memoryMessages) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = nil
	m.cleared++
	return nil
}

func (m *memoryMessages) all() []chatlog.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chatlog.Message(nil), m.msgs...)
}

type fakeTranscriber struct {
	text string
	err  error

	mu    sync.Mutex
	modes []ai.Mode
	wavs  [][]byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte, mode ai.Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	f.wavs = append(f.wavs, wav)
	return f.text, f.err
}

type fakeConverser struct {
	reply string
	err   error

	mu      sync.Mutex
	queries []string
	cleared int
}

func (f *fakeConverser) Converse(_ context.Context, query string, _ ai.Mode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.reply, f.err
}

func (f *fakeConverser) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeConverser) calls() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...), f.cleared
}

type fakeImages struct {
	out []byte
	err error

	mu      sync.Mutex
	prompts []string
}

func (f *fakeImages) Transform(_ context.Context, _ []byte, prompt string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

// fakeFlasher reports each value in steps then returns err.
type fakeFlasher struct {
	steps []int
	err   error

	mu      sync.Mutex
	targets []string
}

func (f *fakeFlasher) Flash(_ context.Context, target string, progress func(int)) error {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	for _, p := range f.steps {
		progress(p)
	}
	return f.err
}

func (f *fakeFlasher) flashed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

// barrier is handled once every event posted before it has been.
type barrier chan struct{}

func (b barrier) apply(*Machine) { close(b) }

const (
	testFirmware = "v23.248.0754"
	testImage    = "v23.230.0808"
)

func testDeployment(t *testing.T) scripts.Deployment {
	t.Helper()
	d, err := scripts.Build([]scripts.File{
		{Name: "a.py", Content: "x"},
		{Name: "b.py", Content: "y"},
		{Name: "c.py", Content: "z"},
	}, "c.py", scripts.DefaultVariable)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return d
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.RequiredFirmware = testFirmware
	opts.RequiredImage = testImage
	opts.ShellEntryDelay = time.Millisecond
	opts.ChunkPacing = 0
	opts.Deployment = testDeployment(t)
	return opts
}

type harness struct {
	m        *Machine
	tr       *mockTransport
	obs      *recordingObserver
	messages *memoryMessages
}

// start runs a machine until the test ends.
func start(t *testing.T, c Collaborators, opts Options) *harness {
	t.Helper()
	if c.Transport == nil {
		c.Transport = newMockTransport(182)
	}
	obs := &recordingObserver{}
	msgs := &memoryMessages{}
	c.Observer = obs
	c.Messages = msgs

	m := New(c, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{m: m, tr: c.Transport.(*mockTransport), obs: obs, messages: msgs}
}

// settle waits until every event posted so far has been handled.
func (h *harness) settle() {
	b := make(barrier)
	h.m.post(b)
	<-b
}

// serial delivers each fragment on the serial channel.
func (h *harness) serial(fragments ...string) {
	for _, f := range fragments {
		h.m.SerialReceived([]byte(f))
	}
	h.settle()
}

// frames delivers each frame on the data channel.
func (h *harness) frames(frames ...string) {
	for _, f := range frames {
		h.m.DataReceived([]byte(f))
	}
	h.settle()
}

// handshake connects and answers the REPL and version queries.
func (h *harness) handshake(t *testing.T, firmware, image string) {
	t.Helper()
	h.m.DeviceConnected()
	waitFor(t, "raw REPL prompt", func() bool {
		_, ok := h.m.State().(AwaitingRemoteShellConfirmation)
		return ok
	})
	h.serial("raw REPL; CTRL-B", " to exit\r\n>")
	h.serial("OK"+firmware+"\r\n", "\x04\x04>")
	h.serial("OKb'"+image+"'\r\n\x04", "\x04>")
}

// reachRunning takes a fresh machine all the way to Running.
func (h *harness) reachRunning(t *testing.T) {
	t.Helper()
	h.handshake(t, testFirmware, testImage)
	h.serial("OK" + h.m.opts.Deployment.Version + "\r\n\x04\x04>")
	if _, ok := h.m.State().(Running); !ok {
		t.Fatalf("state = %s, want Running", Name(h.m.State()))
	}
}

// waitSent waits for a data frame starting with prefix and returns it.
func (h *harness) waitSent(t *testing.T, prefix string) string {
	t.Helper()
	var found string
	waitFor(t, "data frame "+prefix, func() bool {
		for _, d := range h.tr.data() {
			if strings.HasPrefix(d, prefix) {
				found = d
				return true
			}
		}
		return false
	})
	return found
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func cmd(stmt string) string {
	return string(protocol.Command(stmt))
}
