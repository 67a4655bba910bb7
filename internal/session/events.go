package session

import "github.com/chaz8081/monolink/internal/ai"

// event is anything handled on the session goroutine.
type event interface {
	apply(m *Machine)
}

type connected struct{}

type disconnected struct{}

type bootloaderConnected struct{ address string }

type serialReceived struct{ text string }

type dataReceived struct{ frame []byte }

type timer struct {
	gen uint64
	fn  func()
}

type flashProgress struct {
	gen     uint64
	percent int
}

type flashDone struct {
	gen uint64
	err error
}

type transcribed struct {
	text  string
	err   error
	image []byte
	mode  ai.Mode
}

type conversed struct {
	reply string
	err   error
	mode  ai.Mode
}

type transformed struct {
	prompt string
	image  []byte
	err    error
}

type hostQuery struct{ text string }

type modeChange struct{ mode ai.Mode }

type historyClear struct{}

func (connected) apply(m *Machine)             { m.onConnected() }
func (disconnected) apply(m *Machine)          { m.onDisconnected() }
func (e bootloaderConnected) apply(m *Machine) { m.onBootloader(e.address) }
func (e serialReceived) apply(m *Machine)      { m.onSerial(e.text) }
func (e dataReceived) apply(m *Machine)        { m.onData(e.frame) }
func (e flashProgress) apply(m *Machine)       { m.onFlashProgress(e) }
func (e flashDone) apply(m *Machine)           { m.onFlashDone(e) }
func (e transcribed) apply(m *Machine)         { m.onTranscribed(e) }
func (e conversed) apply(m *Machine)           { m.onConversed(e) }
func (e transformed) apply(m *Machine)         { m.onTransformed(e) }
func (e hostQuery) apply(m *Machine)           { m.submitQuery(e.text) }
func (e modeChange) apply(m *Machine)          { m.onModeChange(e.mode) }
func (historyClear) apply(m *Machine)          { m.clearHistory() }

func (e timer) apply(m *Machine) {
	if e.gen != m.gen {
		return
	}
	e.fn()
}
