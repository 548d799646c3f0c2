// Package classpath locates class bytes by binary name across an ordered list
// of directories, jar archives and in-memory tables.
package classpath

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("espresso.classpath")

// ErrNotFound is returned when no entry holds the requested class.
var ErrNotFound = errors.New("classpath: class not found")

// Entry is one element of a class path.
type Entry interface {
	// Search returns the bytes of the class with the given binary name
	// (e.g. "java/lang/String"), or an error wrapping ErrNotFound.
	Search(name string) ([]byte, error)
	// Classes lists every class name the entry can serve.
	Classes() ([]string, error)
	String() string
}

func classFileName(name string) string {
	return name + ".class"
}

// ---------------------------------------------------------------------------
// Directory entries
// ---------------------------------------------------------------------------

// DirEntry serves classes from a directory tree laid out by package.
type DirEntry struct {
	Root string
}

// NewDirEntry creates a directory entry.
func NewDirEntry(root string) *DirEntry {
	return &DirEntry{Root: root}
}

func (d *DirEntry) Search(name string) ([]byte, error) {
	path := filepath.Join(d.Root, filepath.FromSlash(classFileName(name)))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, d.Root)
	}
	if err != nil {
		return nil, fmt.Errorf("classpath: read %s: %w", path, err)
	}
	return data, nil
}

func (d *DirEntry) Classes() ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.Root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".class"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classpath: walk %s: %w", d.Root, err)
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirEntry) String() string { return d.Root }

// ---------------------------------------------------------------------------
// Jar entries
// ---------------------------------------------------------------------------

// JarEntry serves classes from a jar (zip) archive. The archive is opened on
// first use and its directory indexed by entry name.
type JarEntry struct {
	Path string

	once  sync.Once
	err   error
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

// NewJarEntry creates a jar entry.
func NewJarEntry(path string) *JarEntry {
	return &JarEntry{Path: path}
}

func (j *JarEntry) open() error {
	j.once.Do(func() {
		rc, err := zip.OpenReader(j.Path)
		if err != nil {
			j.err = fmt.Errorf("classpath: open jar %s: %w", j.Path, err)
			return
		}
		j.rc = rc
		j.files = make(map[string]*zip.File, len(rc.File))
		for _, f := range rc.File {
			j.files[f.Name] = f
		}
		log.Debugf("indexed %d jar entries in %s", len(j.files), j.Path)
	})
	return j.err
}

func (j *JarEntry) Search(name string) ([]byte, error) {
	if err := j.open(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (%v)", ErrNotFound, name, err)
		}
		return nil, err
	}
	f, ok := j.files[classFileName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, j.Path)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("classpath: open %s in %s: %w", f.Name, j.Path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("classpath: read %s in %s: %w", f.Name, j.Path, err)
	}
	return data, nil
}

func (j *JarEntry) Classes() ([]string, error) {
	if err := j.open(); err != nil {
		return nil, err
	}
	var names []string
	for name := range j.files {
		if strings.HasSuffix(name, ".class") {
			names = append(names, strings.TrimSuffix(name, ".class"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the underlying archive.
func (j *JarEntry) Close() error {
	if j.rc == nil {
		return nil
	}
	rc := j.rc
	j.rc = nil
	return rc.Close()
}

func (j *JarEntry) String() string { return j.Path }

// ---------------------------------------------------------------------------
// In-memory entries
// ---------------------------------------------------------------------------

// MemoryEntry serves classes from a map.
type MemoryEntry struct {
	Label string

	mu      sync.RWMutex
	classes map[string][]byte
}

// NewMemoryEntry creates an empty in-memory entry.
func NewMemoryEntry(label string) *MemoryEntry {
	return &MemoryEntry{Label: label, classes: make(map[string][]byte)}
}

// Put adds or replaces a class.
func (m *MemoryEntry) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[name] = data
}

func (m *MemoryEntry) Search(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, m.Label)
	}
	return data, nil
}

func (m *MemoryEntry) Classes() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.classes))
	for name := range m.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryEntry) String() string { return m.Label }

// ---------------------------------------------------------------------------
// Path
// ---------------------------------------------------------------------------

// Path is an ordered list of entries. Search consults them in registration
// order and the first match wins.
type Path struct {
	entries []Entry
}

// NewPath creates a path from the given entries.
func NewPath(entries ...Entry) *Path {
	return &Path{entries: entries}
}

// Parse builds a Path from an OS-style list ("classes:lib/a.jar"). Elements
// ending in .jar or .zip become jar entries; everything else is a directory.
func Parse(cp string) *Path {
	p := &Path{}
	for _, elem := range filepath.SplitList(cp) {
		if elem == "" {
			continue
		}
		lower := strings.ToLower(elem)
		if strings.HasSuffix(lower, ".jar") || strings.HasSuffix(lower, ".zip") {
			p.Add(NewJarEntry(elem))
		} else {
			p.Add(NewDirEntry(elem))
		}
	}
	return p
}

// Add appends an entry.
func (p *Path) Add(e Entry) {
	p.entries = append(p.entries, e)
}

// Prepend inserts an entry ahead of all others.
func (p *Path) Prepend(e Entry) {
	p.entries = append([]Entry{e}, p.entries...)
}

// Entries returns the entries in search order.
func (p *Path) Entries() []Entry {
	return p.entries
}

// Search returns the first entry's bytes for name.
func (p *Path) Search(name string) ([]byte, error) {
	for _, e := range p.entries {
		data, err := e.Search(name)
		if err == nil {
			log.Debugf("found %s in %s", name, e)
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Classes lists the union of every entry's classes, earlier entries
// shadowing later ones.
func (p *Path) Classes() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, e := range p.entries {
		list, err := e.Classes()
		if err != nil {
			return nil, err
		}
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every entry that holds resources.
func (p *Path) Close() error {
	var errs []error
	for _, e := range p.entries {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Path) String() string {
	parts := make([]string, len(p.entries))
	for i, e := range p.entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}
