package session

import "log/slog"

// Status is the coarse device state shown to the user.
type Status int

const (
	NotReady Status = iota
	UpdatingFirmware
	UpdatingImage
	Ready
)

func (s Status) String() string {
	switch s {
	case NotReady:
		return "not ready"
	case UpdatingFirmware:
		return "updating firmware"
	case UpdatingImage:
		return "updating FPGA"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Observer is told about user-visible changes. Calls come from the session
// goroutine and must not block.
type Observer interface {
	StatusChanged(Status)
	ProgressChanged(percent int)
	ConnectionChanged(connected bool)
}

// LogObserver reports changes through slog.
type LogObserver struct{}

func (LogObserver) StatusChanged(s Status) {
	slog.Info("[Session] Status", "status", s.String())
}

func (LogObserver) ProgressChanged(percent int) {
	slog.Info("[Session] Update progress", "percent", percent)
}

func (LogObserver) ConnectionChanged(connected bool) {
	slog.Info("[Session] Connection", "connected", connected)
}
