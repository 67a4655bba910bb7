// Package fpga sequences a bitstream update of the Monocle's FPGA over the
// raw REPL: erase, write base64 chunks one at a time, then commit and reset.
package fpga

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// REPL statements.
const (
	EraseCommand    = "import ubinascii,update,device,bluetooth,fpga;fpga.run(False);update.Fpga.erase()"
	FinalizeCommand = "update.Fpga.write(b'done');device.reset()"

	WritePrefix = "update.Fpga.write(ubinascii.a2b_base64(b'"
	WriteSuffix = "'))"
)

// ErrChunkSize is returned when a payload limit leaves no room for image data.
var ErrChunkSize = errors.New("fpga: payload too small for a chunk")

// Overhead is the number of payload bytes a write statement spends on
// everything except the chunk: the wrapper and the trailing EOT.
func Overhead() int {
	return len(WritePrefix) + len(WriteSuffix) + 1
}

// ChunkSize returns the largest chunk of base64 text whose write statement
// fits in maxPayload bytes. It is a multiple of 12, so every chunk is whole
// base64 quanta and a whole number of source bytes.
func ChunkSize(maxPayload int) int {
	n := ((maxPayload - Overhead()) / 3 / 4) * 4 * 3
	if n < 0 {
		return 0
	}
	return n
}

// WriteCommand wraps one chunk of base64 text in a write statement.
func WriteCommand(chunk string) string {
	return WritePrefix + chunk + WriteSuffix
}

// LoadImage reads a raw bitstream and returns it base64 encoded.
func LoadImage(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fpga: reading image: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("fpga: image %s is empty", path)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
