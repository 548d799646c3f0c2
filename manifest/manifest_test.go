package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
classpath = ["classes", "lib/app.jar"]
main = "demo/Main"
max-frames = 256
heap-limit = 10000

[log]
verbosity = 2
file = "espresso.log"

[cds]
enabled = true
archive = "cache/app.cds"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.Main != "demo/Main" {
		t.Errorf("vm main = %q, want demo/Main", m.VM.Main)
	}
	if m.VM.MaxFrames != 256 {
		t.Errorf("vm max-frames = %d, want 256", m.VM.MaxFrames)
	}
	if m.VM.HeapLimit != 10000 {
		t.Errorf("vm heap-limit = %d, want 10000", m.VM.HeapLimit)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if !m.CDS.Enabled {
		t.Error("cds enabled = false, want true")
	}

	wantCP := filepath.Join(m.Dir, "classes") + string(filepath.ListSeparator) + filepath.Join(m.Dir, "lib/app.jar")
	if cp := m.ClassPath(); cp != wantCP {
		t.Errorf("ClassPath() = %q, want %q", cp, wantCP)
	}
	if got := m.ArchivePath(); got != filepath.Join(m.Dir, "cache/app.cds") {
		t.Errorf("ArchivePath() = %q", got)
	}
	if lf := m.LogFile(); lf == nil || *lf != filepath.Join(m.Dir, "espresso.log") {
		t.Errorf("LogFile() = %v", lf)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
main = "Hello"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.VM.ClassPath) != 1 || m.VM.ClassPath[0] != "." {
		t.Errorf("default classpath = %v, want [.]", m.VM.ClassPath)
	}
	if m.VM.MaxFrames != DefaultMaxFrames {
		t.Errorf("default max-frames = %d, want %d", m.VM.MaxFrames, DefaultMaxFrames)
	}
	if m.CDS.Archive != DefaultArchive {
		t.Errorf("default archive = %q, want %q", m.CDS.Archive, DefaultArchive)
	}
	if m.LogFile() != nil {
		t.Error("LogFile() should be nil without [log] file")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
mian = "Typo"
`)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "mian") {
		t.Errorf("err = %v, want unknown key error naming mian", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[vm]
main = "found/Main"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.VM.Main != "found/Main" {
		t.Errorf("vm main = %q, want found/Main", m.VM.Main)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no espresso.toml exists")
	}
}
