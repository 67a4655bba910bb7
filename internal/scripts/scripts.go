// Package scripts builds the content-addressed set of MicroPython files that
// make up the Monocle application.
package scripts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"strings"
)

// Defaults for the bundled application.
var DefaultBasenames = []string{"states", "graphics", "audio", "photo", "main"}

const (
	DefaultEntryPoint = "main.py"
	DefaultVariable   = "APP_VERSION"
)

// File is a script ready to be embedded in a single-line REPL statement.
type File struct {
	Name    string
	Content string // escaped
}

// Deployment is an ordered set of files and the version derived from them.
type Deployment struct {
	Version string
	Files   []File
}

// Queue returns the files in transmission order.
func (d Deployment) Queue() Queue {
	return Queue{files: d.Files}
}

// Escape rewrites each line break as the two characters '\' 'n' so the source
// survives inside a single-line write statement.
func Escape(src string) string {
	return strings.ReplaceAll(src, "\n", `\n`)
}

// Version hashes name and content of every file in order. Reordering files
// changes the result.
func Version(files []File) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Name))
		h.Write([]byte(f.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build versions files and prepends `variable="<version>"` to the entry point
// so the running application can report what it is. files must already be
// escaped.
func Build(files []File, entryPoint, variable string) (Deployment, error) {
	version := Version(files)

	out := make([]File, len(files))
	copy(out, files)
	found := false
	for i := range out {
		if out[i].Name == entryPoint {
			out[i].Content = fmt.Sprintf(`%s="%s"\n`, variable, version) + out[i].Content
			found = true
		}
	}
	if !found {
		return Deployment{}, fmt.Errorf("scripts: entry point %q not among %d files", entryPoint, len(files))
	}
	return Deployment{Version: version, Files: out}, nil
}

// Load reads <basename>.py for each basename in order from fsys and builds a
// deployment from them. entryPoint may be given with or without ".py".
func Load(fsys fs.FS, basenames []string, entryPoint, variable string) (Deployment, error) {
	if len(basenames) == 0 {
		return Deployment{}, fmt.Errorf("scripts: no files to load")
	}
	files := make([]File, 0, len(basenames))
	for _, base := range basenames {
		name := base + ".py"
		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			return Deployment{}, fmt.Errorf("scripts: reading %s: %w", name, err)
		}
		files = append(files, File{Name: name, Content: Escape(string(src))})
	}
	return Build(files, strings.TrimSuffix(entryPoint, ".py")+".py", variable)
}

// WriteCommand is the REPL statement that writes f to the device filesystem.
func WriteCommand(f File) string {
	return fmt.Sprintf("f=open('%s','w');f.write('''%s''');f.close()", f.Name, f.Content)
}

// VersionQuery is the REPL statement that prints the deployed version.
func VersionQuery(variable string) string {
	return "print(" + variable + ")"
}
