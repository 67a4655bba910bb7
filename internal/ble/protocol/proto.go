// Package protocol holds the Monocle wire contract: the raw REPL markers and
// statements spoken on the serial channel, and the four-byte tagged frames
// spoken on the data channel.
package protocol

import (
	"bytes"
	"strings"
)

// EOT terminates every raw REPL statement and separates its output.
const EOT byte = 0x04

// Markers the device prints on the serial channel.
const (
	RawREPLBanner     = "raw REPL; CTRL-B to exit\r\n>"
	OKMarker          = "OK\x04\x04>"
	VersionTerminator = "\x04>"
	ErrorMarker       = "Error"
)

// InterruptSequence stops any running program (Ctrl-C twice) and enters raw
// REPL mode (Ctrl-A).
var InterruptSequence = []byte{0x03, 0x03, 0x01}

// RunSignal is a bare EOT, which soft-reboots the device into main.py.
var RunSignal = []byte{EOT}

// Version queries. Each prints a single line and releases the module again.
const (
	FirmwareVersionQuery = "import device;print(device.VERSION);del(device)"
	ImageVersionQuery    = "import fpga;print(fpga.read(2,12));del(fpga)"
)

// Channel selects one of the two logical BLE services.
type Channel int

const (
	// ChannelSerial carries raw REPL text.
	ChannelSerial Channel = iota
	// ChannelData carries tagged binary frames.
	ChannelData
)

func (c Channel) String() string {
	switch c {
	case ChannelSerial:
		return "serial"
	case ChannelData:
		return "data"
	default:
		return "unknown"
	}
}

// Command turns a single-line statement into a raw REPL command.
func Command(stmt string) []byte {
	b := make([]byte, 0, len(stmt)+1)
	b = append(b, stmt...)
	return append(b, EOT)
}

// ParseFirmwareVersion extracts the version from the response to
// FirmwareVersionQuery, e.g. "OKv23.248.0754\r\n\x04\x04>". Raw REPL output
// is "OK", then stdout, EOT, stderr, EOT; anything on stderr or an "Error"
// anywhere in the response is a failure.
func ParseFirmwareVersion(response string) (string, bool) {
	if strings.Contains(response, ErrorMarker) || !strings.HasPrefix(response, "OK") {
		return "", false
	}
	stdout, rest, _ := strings.Cut(response[2:], string(EOT))
	if stderr, _, _ := strings.Cut(rest, string(EOT)); stderr != "" {
		return "", false
	}
	if i := strings.IndexAny(stdout, "\r\n"); i >= 0 {
		stdout = stdout[:i]
	}
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return "", false
	}
	return stdout, true
}

// ParseImageVersion extracts the version from the response to
// ImageVersionQuery, which prints a bytes literal: "OKb'v23.230.0808'".
func ParseImageVersion(response string) (string, bool) {
	v, ok := ParseFirmwareVersion(response)
	if !ok {
		return "", false
	}
	v = strings.TrimPrefix(v, "b'")
	v = strings.TrimSuffix(v, "'")
	return v, v != ""
}

// Tag is the four-byte ASCII prefix of a data channel frame.
type Tag string

// Frames sent by the device.
const (
	TagAudioStart Tag = "ast:"
	TagAudioData  Tag = "dat:"
	TagAudioEnd   Tag = "aen:"
	TagImageStart Tag = "ist:"
	TagImageData  Tag = "idt:"
	TagImageEnd   Tag = "ien:"
	TagPong       Tag = "pon:"
)

// Frames sent to the device.
const (
	TagPing     Tag = "pin:"
	TagResponse Tag = "res:"
	TagError    Tag = "err:"
	TagImageAck Tag = "ick:"
)

// TagSize is the length of every Tag.
const TagSize = 4

// SplitFrame separates a data channel frame into its tag and payload. Frames
// shorter than a tag are rejected.
func SplitFrame(frame []byte) (Tag, []byte, bool) {
	if len(frame) < TagSize {
		return "", nil, false
	}
	return Tag(frame[:TagSize]), frame[TagSize:], true
}

// Frame builds a single data channel frame.
func Frame(tag Tag, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(TagSize + len(payload))
	buf.WriteString(string(tag))
	buf.Write(payload)
	return buf.Bytes()
}
