package classpath

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func writeJar(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib.jar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirEntry(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"demo/Main.class":     "main",
		"demo/util/Fmt.class": "fmt",
		"README.txt":          "ignored",
	})
	e := NewDirEntry(dir)

	data, err := e.Search("demo/util/Fmt")
	if err != nil || string(data) != "fmt" {
		t.Fatalf("Search = %q, %v; want fmt", data, err)
	}
	if _, err := e.Search("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing class err = %v, want ErrNotFound", err)
	}

	names, err := e.Classes()
	if err != nil {
		t.Fatalf("Classes failed: %v", err)
	}
	want := []string{"demo/Main", "demo/util/Fmt"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Classes = %v, want %v", names, want)
	}
}

func TestJarEntry(t *testing.T) {
	jar := writeJar(t, map[string]string{
		"demo/Main.class":      "main",
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\n",
	})
	e := NewJarEntry(jar)
	defer e.Close()

	data, err := e.Search("demo/Main")
	if err != nil || string(data) != "main" {
		t.Fatalf("Search = %q, %v; want main", data, err)
	}
	if _, err := e.Search("demo/Other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing class err = %v, want ErrNotFound", err)
	}
	names, err := e.Classes()
	if err != nil || !reflect.DeepEqual(names, []string{"demo/Main"}) {
		t.Errorf("Classes = %v, %v; want [demo/Main]", names, err)
	}
}

func TestMissingJarIsNotFound(t *testing.T) {
	e := NewJarEntry(filepath.Join(t.TempDir(), "absent.jar"))
	if _, err := e.Search("demo/Main"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPathFirstMatchWins(t *testing.T) {
	first := NewMemoryEntry("first")
	first.Put("demo/Shared", []byte("from-first"))
	dir := writeDir(t, map[string]string{
		"demo/Shared.class": "from-dir",
		"demo/Only.class":   "only-dir",
	})
	jar := writeJar(t, map[string]string{
		"demo/Shared.class": "from-jar",
		"demo/Jarred.class": "only-jar",
	})

	p := NewPath(first)
	p.Add(NewDirEntry(dir))
	p.Add(NewJarEntry(jar))
	defer p.Close()

	tests := []struct {
		name string
		want string
	}{
		{"demo/Shared", "from-first"},
		{"demo/Only", "only-dir"},
		{"demo/Jarred", "only-jar"},
	}
	for _, tt := range tests {
		data, err := p.Search(tt.name)
		if err != nil {
			t.Errorf("Search(%s) failed: %v", tt.name, err)
			continue
		}
		if string(data) != tt.want {
			t.Errorf("Search(%s) = %q, want %q", tt.name, data, tt.want)
		}
	}

	if _, err := p.Search("demo/Nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	names, err := p.Classes()
	if err != nil {
		t.Fatalf("Classes failed: %v", err)
	}
	want := []string{"demo/Jarred", "demo/Only", "demo/Shared"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Classes = %v, want %v", names, want)
	}
}

func TestParse(t *testing.T) {
	cp := "classes" + string(filepath.ListSeparator) + "lib/app.JAR" + string(filepath.ListSeparator)
	p := Parse(cp)
	entries := p.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if _, ok := entries[0].(*DirEntry); !ok {
		t.Errorf("entries[0] = %T, want *DirEntry", entries[0])
	}
	if _, ok := entries[1].(*JarEntry); !ok {
		t.Errorf("entries[1] = %T, want *JarEntry", entries[1])
	}

	mem := NewMemoryEntry("boot")
	p.Prepend(mem)
	if p.Entries()[0] != Entry(mem) {
		t.Error("Prepend did not put the entry first")
	}
}
