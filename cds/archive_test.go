package cds

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/espresso/classfile"
	"github.com/chazu/espresso/classpath"
)

func sampleClass(t *testing.T, name string) []byte {
	t.Helper()
	b := classfile.NewBuilder(name, "java/lang/Object")
	b.AddConstantField(classfile.AccPublic, "ANSWER", "I", b.Integer(42))
	b.AddMethod(classfile.MethodSpec{
		Access:     classfile.AccPublic | classfile.AccStatic,
		Name:       "main",
		Descriptor: "([Ljava/lang/String;)V",
		Code:       &classfile.CodeAttribute{MaxStack: 0, MaxLocals: 1, Code: []byte{0xB1}},
	})
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "classes.cds"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestStoreAndLookup(t *testing.T) {
	a := openArchive(t)
	data := sampleClass(t, "demo/Main")
	cf, err := classfile.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	digest := Digest(data)

	if _, err := a.Lookup("demo/Main", digest); !errors.Is(err, ErrMiss) {
		t.Fatalf("Lookup before Store err = %v, want ErrMiss", err)
	}
	if err := a.Store("demo/Main", digest, cf); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := a.Lookup("demo/Main", digest)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	name, _ := got.ClassName()
	if name != "demo/Main" {
		t.Errorf("archived class name = %q, want demo/Main", name)
	}
	if len(got.Methods) != 1 || !reflect.DeepEqual(got.Methods[0].Code.Code, []byte{0xB1}) {
		t.Errorf("archived methods = %+v", got.Methods)
	}

	reencoded, err := got.Bytes()
	if err != nil {
		t.Fatalf("Bytes on archived class failed: %v", err)
	}
	if Digest(reencoded) != digest {
		t.Error("archived class does not serialize back to the original bytes")
	}

	if _, err := a.Lookup("demo/Main", Digest([]byte("other"))); !errors.Is(err, ErrMiss) {
		t.Errorf("stale digest err = %v, want ErrMiss", err)
	}
	if hits, misses := a.Stats(); hits != 1 || misses != 2 {
		t.Errorf("stats = %d hits, %d misses; want 1, 2", hits, misses)
	}
}

func TestBuildArchivesClassPath(t *testing.T) {
	mem := classpath.NewMemoryEntry("test")
	for _, n := range []string{"demo/A", "demo/B", "demo/C"} {
		mem.Put(n, sampleClass(t, n))
	}
	a := openArchive(t)

	n, err := Build(context.Background(), classpath.NewPath(mem), a)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Build stored %d classes, want 3", n)
	}

	entries, err := a.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
		if e.Size == 0 {
			t.Errorf("%s archived with empty data", e.Name)
		}
	}
	if !reflect.DeepEqual(names, []string{"demo/A", "demo/B", "demo/C"}) {
		t.Errorf("archived names = %v", names)
	}
}

func TestBuildReportsParseFailure(t *testing.T) {
	mem := classpath.NewMemoryEntry("test")
	mem.Put("demo/Broken", []byte{0xCA, 0xFE})
	a := openArchive(t)

	if _, err := Build(context.Background(), classpath.NewPath(mem), a); !errors.Is(err, classfile.ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}
