package dfu

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCommand is the flashing tool used when none is configured.
const DefaultCommand = "nrfutil"

// DefaultArgs invoke a BLE DFU of {package} to the bootloader at {target}.
var DefaultArgs = []string{"dfu", "ble", "-ic", "NRF52", "-pkg", "{package}", "-a", "{target}"}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// ExecFlasher flashes by running an external DFU tool and scraping
// percentages from its output.
type ExecFlasher struct {
	Command string
	Args    []string // {target} and {package} are substituted
	Package string   // firmware .zip
}

// Flash runs the tool and waits for it to exit.
func (f ExecFlasher) Flash(ctx context.Context, target string, progress func(int)) error {
	name := strings.TrimSpace(f.Command)
	if name == "" {
		name = DefaultCommand
	}
	args := f.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	r := strings.NewReplacer("{target}", target, "{package}", f.Package)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, name, expanded...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("dfu: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dfu: starting %s: %w", name, err)
	}

	scanProgress(stdout, progress)

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("dfu: %s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("dfu: %s: %w", name, err)
	}
	return nil
}

// scanProgress reports every new percentage found in r. Progress bars redraw
// with '\r', so both '\r' and '\n' end a line.
func scanProgress(r io.Reader, progress func(int)) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanCRLF)
	last := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		slog.Debug("[DFU] tool output", "line", line)
		m := percentRe.FindAllStringSubmatch(line, -1)
		if len(m) == 0 {
			continue
		}
		p, err := strconv.Atoi(m[len(m)-1][1])
		if err != nil || p > 100 || p == last {
			continue
		}
		last = p
		progress(p)
	}
}

func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
