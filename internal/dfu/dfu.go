// Package dfu drives a Nordic DFU firmware update of the Monocle. The device
// is told to reboot into its bootloader; once the bootloader advertises, a
// Flasher pushes the firmware package and reports progress.
package dfu

import (
	"context"
	"log/slog"
	"sync"
)

// BeginCommand is the REPL statement that reboots the device into its
// bootloader.
const BeginCommand = "import update;update.micropython()"

// BootloaderName is the advertised name of a device waiting for firmware.
const BootloaderName = "DfuTarg"

// Flasher pushes a firmware package to the bootloader at target, calling
// progress with values in 0-100.
type Flasher interface {
	Flash(ctx context.Context, target string, progress func(int)) error
}

// Scale maps flashing progress into the range the user sees. When an FPGA
// update follows, flashing takes the lower half.
func Scale(progress int, rescale bool) int {
	progress = max(0, min(100, progress))
	if rescale {
		return progress / 2
	}
	return progress
}

// Coordinator runs at most one flashing session at a time. It never retries:
// a failed session is reported through done and the caller decides whether
// the bootloader should be looked for again.
type Coordinator struct {
	flasher Flasher

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewCoordinator returns a Coordinator flashing with f.
func NewCoordinator(f Flasher) *Coordinator {
	return &Coordinator{flasher: f}
}

// Start begins flashing target in its own goroutine, cancelling any session
// already running. progress and done are only called for the newest session;
// done is called exactly once for it unless Abort or Start intervenes.
func (c *Coordinator) Start(target string, progress func(int), done func(error)) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	slog.Info("[DFU] Flashing started", "target", target)

	go func() {
		defer cancel()
		err := c.flasher.Flash(ctx, target, func(p int) {
			if c.current(gen) {
				progress(p)
			}
		})
		if !c.current(gen) {
			return
		}
		if err != nil {
			slog.Warn("[DFU] Flashing failed", "target", target, "error", err)
		} else {
			slog.Info("[DFU] Flashing complete", "target", target)
		}
		done(err)
	}()
}

// Abort cancels the running session, if any, without calling its done.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}
