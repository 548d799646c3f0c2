// Package manifest handles espresso.toml launch configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file searched for by Load and FindAndLoad.
const FileName = "espresso.toml"

// Defaults applied when the manifest leaves a value unset.
const (
	DefaultMaxFrames = 1024
	DefaultArchive   = ".espresso/classes.cds"
)

// Manifest represents an espresso.toml configuration.
type Manifest struct {
	VM  VMConfig  `toml:"vm"`
	Log LogConfig `toml:"log"`
	CDS CDSConfig `toml:"cds"`

	// Dir is the directory containing the espresso.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig configures class loading and execution limits.
type VMConfig struct {
	ClassPath []string `toml:"classpath"`
	Main      string   `toml:"main"`
	MaxFrames int      `toml:"max-frames"`
	HeapLimit int      `toml:"heap-limit"` // maximum live objects, 0 for no limit
}

// LogConfig configures commonlog output.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// CDSConfig configures the class data sharing archive.
type CDSConfig struct {
	Enabled bool   `toml:"enabled"`
	Archive string `toml:"archive"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	m.applyDefaults()
	return m
}

// Load parses an espresso.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find an espresso.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if len(m.VM.ClassPath) == 0 {
		m.VM.ClassPath = []string{"."}
	}
	if m.VM.MaxFrames <= 0 {
		m.VM.MaxFrames = DefaultMaxFrames
	}
	if m.CDS.Archive == "" {
		m.CDS.Archive = DefaultArchive
	}
}

// ClassPath returns the configured class path as an OS path list, with
// relative elements resolved against the manifest directory.
func (m *Manifest) ClassPath() string {
	paths := make([]string, 0, len(m.VM.ClassPath))
	for _, p := range m.VM.ClassPath {
		paths = append(paths, m.resolve(p))
	}
	return strings.Join(paths, string(filepath.ListSeparator))
}

// ArchivePath returns the absolute path of the CDS archive.
func (m *Manifest) ArchivePath() string {
	return m.resolve(m.CDS.Archive)
}

// LogFile returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
