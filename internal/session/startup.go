package session

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaz8081/monolink/internal/ble/protocol"
	"github.com/chaz8081/monolink/internal/dfu"
	"github.com/chaz8081/monolink/internal/fpga"
	"github.com/chaz8081/monolink/internal/matcher"
	"github.com/chaz8081/monolink/internal/scripts"
)

// enter performs the entry action of s.
func (m *Machine) enter(s State) {
	switch s := s.(type) {
	case Disconnected:
		m.setStatus(NotReady)
		m.c.Observer.ConnectionChanged(false)
		if m.dfu != nil {
			m.dfu.Abort()
		}
		m.dispatcher.Reset()
		m.pending.Clear()

	case EnteringRemoteShell:
		m.after(m.opts.ShellEntryDelay, func() {
			if _, ok := m.state.(EnteringRemoteShell); !ok {
				return
			}
			m.c.Transport.Send(protocol.ChannelSerial, protocol.InterruptSequence)
			m.transition(AwaitingRemoteShellConfirmation(s))
		})

	case AwaitingRemoteShellConfirmation:
		m.marker = matcher.New(protocol.RawREPLBanner)
		m.firmware = ""
		m.image = ""
		if !s.DidFinishFirmwareUpdate {
			m.setStatus(NotReady)
		}

	case AwaitingFirmwareVersion:
		m.response = m.response[:0]
		m.sendCommand(protocol.FirmwareVersionQuery)

	case AwaitingImageVersion:
		m.response = m.response[:0]
		m.sendCommand(protocol.ImageVersionQuery)

	case AwaitingAppVersion:
		m.marker = matcher.New(m.opts.Deployment.Version)
		m.sendCommand(scripts.VersionQuery(m.opts.VersionVariable))

	case DeployingScripts:
		m.marker = matcher.New(protocol.OKMarker)
		m.errMarker = matcher.New(protocol.ErrorMarker)
		m.sendScript(s.InFlight)

	case Running:
		m.c.Transport.Send(protocol.ChannelSerial, protocol.RunSignal)
		m.dispatcher.Reset()
		m.setStatus(Ready)

	case InitiatingFirmwareUpdate:
		m.sendCommand(dfu.BeginCommand)
		m.c.Transport.SetBootloaderScan(true)
		m.setStatus(UpdatingFirmware)
		m.startProgress(0)
		slog.Info("[Session] Firmware update initiated", "rescale", s.Rescale)

	case PerformingFirmwareUpdate:
		m.setStatus(UpdatingFirmware)
		m.startProgress(0)
		m.flash(s)

	case InitiatingImageUpdate:
		m.setStatus(UpdatingImage)
		if s.Rescale {
			m.startProgress(50)
		} else {
			m.startProgress(0)
		}
		m.beginImageUpdate(s)

	case ErasingImage:
		m.marker = matcher.New(protocol.OKMarker)

	case TransferringImageChunks:
		m.marker = matcher.New(protocol.OKMarker)
		m.errMarker = matcher.New(protocol.ErrorMarker)
		m.sendChunk(s.Transfer)

	case FinalizingImage:
		m.sendCommand(fpga.FinalizeCommand)
		slog.Info("[Session] FPGA image committed, waiting for reset")
	}
}

func (m *Machine) onConnected() {
	slog.Info("[Session] Monocle connected", "state", Name(m.state))

	didFinish := false
	if _, ok := m.state.(PerformingFirmwareUpdate); ok {
		didFinish = true
	}
	// The device is back as itself, so any flashing session is over.
	m.c.Transport.SetBootloaderScan(false)
	if m.dfu != nil {
		m.dfu.Abort()
	}

	m.c.Observer.ConnectionChanged(true)
	m.transition(EnteringRemoteShell{DidFinishFirmwareUpdate: didFinish})
}

func (m *Machine) onDisconnected() {
	switch m.state.(type) {
	case InitiatingFirmwareUpdate, PerformingFirmwareUpdate:
		// Rebooting into and out of the bootloader drops the link.
		slog.Info("[Session] Monocle disconnected during firmware update", "state", Name(m.state))
		return
	case Disconnected:
		return
	}
	slog.Info("[Session] Monocle disconnected", "state", Name(m.state))
	m.transition(Disconnected{})
}

func (m *Machine) onBootloader(address string) {
	slog.Info("[Session] Bootloader connected", "address", address, "state", Name(m.state))

	// A device found already in DFU mode gets flashed too. Whether an image
	// update follows is not known yet, so assume it does not.
	rescale := false
	switch s := m.state.(type) {
	case InitiatingFirmwareUpdate:
		rescale = s.Rescale
	case PerformingFirmwareUpdate:
		rescale = s.Rescale
	}
	m.transition(PerformingFirmwareUpdate{Target: address, Rescale: rescale})
}

func (m *Machine) onSerial(text string) {
	slog.Debug("[Session] Serial received", "state", Name(m.state), "text", text)

	switch s := m.state.(type) {
	case AwaitingRemoteShellConfirmation:
		if m.marker.Feed(text) {
			slog.Info("[Session] Raw REPL detected")
			m.transition(AwaitingFirmwareVersion(s))
		}

	case AwaitingFirmwareVersion:
		response, complete := m.collect(text)
		if !complete {
			return
		}
		m.firmware, _ = protocol.ParseFirmwareVersion(response)
		slog.Info("[Session] Firmware version", "version", orUnknown(m.firmware))
		m.transition(AwaitingImageVersion(s))

	case AwaitingImageVersion:
		response, complete := m.collect(text)
		if !complete {
			return
		}
		m.image, _ = protocol.ParseImageVersion(response)
		slog.Info("[Session] FPGA version", "version", orUnknown(m.image))
		m.decideUpdates(s.DidFinishFirmwareUpdate)

	case AwaitingAppVersion:
		m.onAppVersion(text)

	case DeployingScripts:
		m.onScriptReply(s, text)

	case ErasingImage:
		if m.marker.Feed(text) {
			slog.Info("[Session] FPGA disabled and erased")
			m.transition(TransferringImageChunks(s))
		}

	case TransferringImageChunks:
		m.onChunkReply(s, text)
	}
}

// collect accumulates a version reply until its terminator arrives.
func (m *Machine) collect(text string) (string, bool) {
	m.response = append(m.response, text...)
	response := string(m.response)
	return response, strings.Contains(response, protocol.VersionTerminator)
}

// decideUpdates picks what to do once both versions are known. Firmware goes
// first; if the image also needs updating, firmware progress takes the lower
// half of the range.
func (m *Machine) decideUpdates(didFinishFirmwareUpdate bool) {
	firmwareOK := m.opts.RequiredFirmware == "" || m.firmware == m.opts.RequiredFirmware
	imageOK := m.opts.RequiredImage == "" || m.image == m.opts.RequiredImage

	switch {
	case !firmwareOK:
		slog.Info("[Session] Firmware update needed", "current", orUnknown(m.firmware), "required", m.opts.RequiredFirmware)
		m.transition(InitiatingFirmwareUpdate{Rescale: !imageOK})

	case !imageOK:
		slog.Info("[Session] FPGA update needed", "current", orUnknown(m.image), "required", m.opts.RequiredImage)
		payload, ok := m.c.Transport.MaxPayload()
		if !ok || payload <= m.opts.MinPayload {
			m.report(&Error{Kind: KindTransport, Op: "fpga update", Err: fmt.Errorf("unusable max payload %s", payloadString(payload, ok))})
			m.transition(AwaitingAppVersion{})
			return
		}
		m.transition(InitiatingImageUpdate{MaxPayload: payload, Rescale: didFinishFirmwareUpdate})

	default:
		m.transition(AwaitingAppVersion{})
	}
}

// onAppVersion waits for the device to print the deployed version. A reply
// that reaches the prompt or grows to "OK" plus the version length without
// matching means the scripts are stale.
func (m *Machine) onAppVersion(text string) {
	if m.marker.Feed(text) {
		slog.Info("[Session] Application already deployed", "version", m.opts.Deployment.Version)
		m.transition(Running{})
		return
	}
	if strings.Contains(text, ">") || m.marker.Processed() >= len("OK")+len(m.opts.Deployment.Version) {
		slog.Info("[Session] Application not deployed, transmitting scripts", "files", len(m.opts.Deployment.Files))
		m.deploy(m.opts.Deployment.Queue())
		return
	}
	slog.Debug("[Session] Waiting for version string")
}

// deploy sends the head of q, or starts the application if q is empty.
func (m *Machine) deploy(q scripts.Queue) {
	f, rest, ok := q.Pop()
	if !ok {
		slog.Info("[Session] All scripts written, starting application")
		m.transition(Running{})
		return
	}
	m.transition(DeployingScripts{InFlight: f, Remaining: rest})
}

func (m *Machine) sendScript(f scripts.File) {
	stmt := scripts.WriteCommand(f)
	m.sendCommand(stmt)
	slog.Info("[Session] Sent script", "file", f.Name, "bytes", len(stmt)+1)
}

func (m *Machine) onScriptReply(s DeployingScripts, text string) {
	if m.marker.Feed(text) {
		slog.Info("[Session] Script written", "file", s.InFlight.Name)
		m.deploy(s.Remaining)
		return
	}
	if m.errMarker.Feed(text) {
		m.report(&Error{Kind: KindProtocol, Op: "write " + s.InFlight.Name, Err: fmt.Errorf("device replied with an error")})
		m.marker.Reset()
		m.errMarker.Reset()
		m.sendScript(s.InFlight)
	}
}

func (m *Machine) beginImageUpdate(s InitiatingImageUpdate) {
	if m.opts.Image == nil {
		m.report(&Error{Kind: KindTransport, Op: "fpga update", Err: fmt.Errorf("image %w", errNotConfigured)})
		m.transition(AwaitingAppVersion{})
		return
	}
	image, err := m.opts.Image()
	if err == nil {
		var t fpga.Transfer
		t, err = fpga.NewTransfer(image, s.MaxPayload, s.Rescale)
		if err == nil {
			slog.Info("[Session] Updating FPGA", "image_bytes", len(t.Image), "chunk_size", t.ChunkSize, "chunks", t.Total, "max_payload", s.MaxPayload)
			m.sendCommand(fpga.EraseCommand)
			m.transition(ErasingImage{Transfer: t})
			return
		}
	}
	m.report(&Error{Kind: KindTransport, Op: "fpga update", Err: err})
	m.transition(AwaitingAppVersion{})
}

// sendChunk transmits chunk t.Next, pausing first whenever progress moves
// by a whole point so observers get a chance to run.
func (m *Machine) sendChunk(t fpga.Transfer) {
	slog.Debug("[Session] Sending FPGA chunk", "chunk", t.Next, "of", t.Total)

	reported := t.Reported()
	advanced := reported - m.progress
	m.setProgress(reported)

	stmt := t.Command()
	if advanced >= 1 && m.opts.ChunkPacing > 0 {
		m.after(m.opts.ChunkPacing, func() { m.sendCommand(stmt) })
		return
	}
	m.sendCommand(stmt)
}

func (m *Machine) onChunkReply(s TransferringImageChunks, text string) {
	if m.marker.Feed(text) {
		m.marker.Reset()
		m.errMarker.Reset()
		t := s.Transfer.Advance()
		if t.Done() {
			m.setProgress(t.Reported())
			m.transition(FinalizingImage{})
			return
		}
		m.replace(TransferringImageChunks{Transfer: t})
		m.sendChunk(t)
		return
	}
	if m.errMarker.Feed(text) {
		m.marker.Reset()
		m.errMarker.Reset()
		m.report(&Error{Kind: KindProtocol, Op: "fpga chunk", Err: fmt.Errorf("chunk %d rejected, retrying", s.Transfer.Next)})
		m.sendChunk(s.Transfer)
	}
}

func (m *Machine) flash(s PerformingFirmwareUpdate) {
	if m.dfu == nil {
		m.report(&Error{Kind: KindTransport, Op: "firmware update", Err: fmt.Errorf("flasher %w", errNotConfigured)})
		return
	}
	gen := m.gen
	m.dfu.Start(s.Target,
		func(p int) { m.post(flashProgress{gen: gen, percent: p}) },
		func(err error) { m.post(flashDone{gen: gen, err: err}) },
	)
}

func (m *Machine) onFlashProgress(e flashProgress) {
	s, ok := m.state.(PerformingFirmwareUpdate)
	if !ok || e.gen != m.gen {
		return
	}
	m.setProgress(dfu.Scale(e.percent, s.Rescale))
}

func (m *Machine) onFlashDone(e flashDone) {
	if _, ok := m.state.(PerformingFirmwareUpdate); !ok || e.gen != m.gen {
		return
	}
	if e.err != nil {
		// Look for the bootloader again; finding it restarts the flash.
		m.report(&Error{Kind: KindTransport, Op: "firmware update", Err: e.err})
		m.c.Transport.SetBootloaderScan(true)
		return
	}
	slog.Info("[Session] Firmware flashed, waiting for Monocle to reconnect")
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func payloadString(n int, ok bool) string {
	if !ok {
		return "unknown"
	}
	return fmt.Sprint(n)
}
