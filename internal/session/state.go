package session

import (
	"github.com/chaz8081/monolink/internal/fpga"
	"github.com/chaz8081/monolink/internal/scripts"
)

// State is the phase of the session with a connected Monocle. It is one of
// the types below and is replaced on every transition, never mutated.
type State interface {
	isState()
}

// Disconnected is the initial state and the one every unexpected drop
// returns to.
type Disconnected struct{}

// EnteringRemoteShell waits a short settle time after connecting before the
// interrupt sequence is sent.
type EnteringRemoteShell struct {
	DidFinishFirmwareUpdate bool
}

// AwaitingRemoteShellConfirmation waits for the raw REPL banner.
type AwaitingRemoteShellConfirmation struct {
	DidFinishFirmwareUpdate bool
}

// AwaitingFirmwareVersion waits for the reply to the firmware version query.
type AwaitingFirmwareVersion struct {
	DidFinishFirmwareUpdate bool
}

// AwaitingImageVersion waits for the reply to the FPGA image version query.
type AwaitingImageVersion struct {
	DidFinishFirmwareUpdate bool
}

// AwaitingAppVersion waits for the device to print the deployed version.
type AwaitingAppVersion struct{}

// DeployingScripts waits for InFlight to be written; Remaining follow.
type DeployingScripts struct {
	InFlight  scripts.File
	Remaining scripts.Queue
}

// Running means the application is up and the data channel is live.
type Running struct{}

// InitiatingFirmwareUpdate waits for the device to come back as its
// bootloader. Rescale is set when an image update will follow.
type InitiatingFirmwareUpdate struct {
	Rescale bool
}

// PerformingFirmwareUpdate is flashing the bootloader at Target.
type PerformingFirmwareUpdate struct {
	Target  string
	Rescale bool
}

// InitiatingImageUpdate starts an FPGA update sized for MaxPayload.
type InitiatingImageUpdate struct {
	MaxPayload int
	Rescale    bool
}

// ErasingImage waits for the erase to be confirmed.
type ErasingImage struct {
	Transfer fpga.Transfer
}

// TransferringImageChunks waits for chunk Transfer.Next to be confirmed.
type TransferringImageChunks struct {
	Transfer fpga.Transfer
}

// FinalizingImage waits for the device to reset after the image is committed.
type FinalizingImage struct{}

func (Disconnected) isState()                    {}
func (EnteringRemoteShell) isState()             {}
func (AwaitingRemoteShellConfirmation) isState() {}
func (AwaitingFirmwareVersion) isState()         {}
func (AwaitingImageVersion) isState()            {}
func (AwaitingAppVersion) isState()              {}
func (DeployingScripts) isState()                {}
func (Running) isState()                         {}
func (InitiatingFirmwareUpdate) isState()        {}
func (PerformingFirmwareUpdate) isState()        {}
func (InitiatingImageUpdate) isState()           {}
func (ErasingImage) isState()                    {}
func (TransferringImageChunks) isState()         {}
func (FinalizingImage) isState()                 {}

// Name returns the state's type name for logs.
func Name(s State) string {
	switch s.(type) {
	case Disconnected:
		return "Disconnected"
	case EnteringRemoteShell:
		return "EnteringRemoteShell"
	case AwaitingRemoteShellConfirmation:
		return "AwaitingRemoteShellConfirmation"
	case AwaitingFirmwareVersion:
		return "AwaitingFirmwareVersion"
	case AwaitingImageVersion:
		return "AwaitingImageVersion"
	case AwaitingAppVersion:
		return "AwaitingAppVersion"
	case DeployingScripts:
		return "DeployingScripts"
	case Running:
		return "Running"
	case InitiatingFirmwareUpdate:
		return "InitiatingFirmwareUpdate"
	case PerformingFirmwareUpdate:
		return "PerformingFirmwareUpdate"
	case InitiatingImageUpdate:
		return "InitiatingImageUpdate"
	case ErasingImage:
		return "ErasingImage"
	case TransferringImageChunks:
		return "TransferringImageChunks"
	case FinalizingImage:
		return "FinalizingImage"
	default:
		return "Unknown"
	}
}
