// Package vm implements the espresso Java virtual machine: class loading and
// linking, the bytecode interpreter, the object heap and the native methods
// behind the bootstrap class library.
package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/espresso/cds"
	"github.com/chazu/espresso/classpath"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("espresso.vm")

// DefaultMaxFrames bounds the call depth of a thread when Options leaves it
// unset.
const DefaultMaxFrames = 1024

// ---------------------------------------------------------------------------
// VM: The espresso virtual machine
// ---------------------------------------------------------------------------

// Options configures a VM.
type Options struct {
	ClassPath classpath.Entry // searched after the bootstrap library
	Archive   *cds.Archive    // optional class data sharing archive
	MaxFrames int             // per-thread call depth; 0 means DefaultMaxFrames
	HeapLimit int             // maximum live objects; 0 means unbounded
	Stdout    io.Writer
	Stderr    io.Writer
}

// VM is one virtual machine instance: its class table, loader, heap,
// native bridge and threads.
type VM struct {
	Classes *ClassTable
	Loader  *ClassLoader
	Heap    Heap
	Natives *NativeRegistry

	path      *classpath.Path
	maxFrames int
	started   time.Time

	stdout io.Writer
	stderr io.Writer
	outMu  sync.Mutex

	strings *StringTable

	halted     atomic.Bool
	exitStatus atomic.Int32

	threads      sync.WaitGroup
	nextThreadID atomic.Int64
}

// New creates a VM and loads java/lang/Object.
func New(opts Options) (*VM, error) {
	boot, err := bootstrapEntry()
	if err != nil {
		return nil, fmt.Errorf("bootstrap library: %w", err)
	}
	path := classpath.NewPath(boot)
	if opts.ClassPath != nil {
		path.Add(opts.ClassPath)
	}

	vm := &VM{
		Classes:   NewClassTable(),
		Heap:      NewArenaHeap(opts.HeapLimit),
		Natives:   NewNativeRegistry(),
		path:      path,
		maxFrames: opts.MaxFrames,
		started:   time.Now(),
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		strings:   NewStringTable(),
	}
	if vm.maxFrames <= 0 {
		vm.maxFrames = DefaultMaxFrames
	}
	if vm.stdout == nil {
		vm.stdout = os.Stdout
	}
	if vm.stderr == nil {
		vm.stderr = os.Stderr
	}
	vm.Loader = NewClassLoader(vm, vm.Classes, path, opts.Archive)
	registerLangNatives(vm.Natives)

	if _, err := vm.Loader.Load("java/lang/Object"); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	log.Debugf("vm ready, class path %s", path)
	return vm, nil
}

// Close releases class-path resources. The CDS archive belongs to the
// caller.
func (vm *VM) Close() error {
	return vm.path.Close()
}

// ClassPath returns the VM's full search path, bootstrap entry first.
func (vm *VM) ClassPath() *classpath.Path {
	return vm.path
}

// Stdout returns the writer behind System.out.
func (vm *VM) Stdout() io.Writer {
	return vm.stdout
}

// Stderr returns the writer behind System.err.
func (vm *VM) Stderr() io.Writer {
	return vm.stderr
}

func (vm *VM) write(w io.Writer, s string) {
	vm.outMu.Lock()
	defer vm.outMu.Unlock()
	io.WriteString(w, s)
}

// ---------------------------------------------------------------------------
// Exit
// ---------------------------------------------------------------------------

// Exit halts the VM with status. Every thread stops at its next
// instruction.
func (vm *VM) Exit(status int) *ExitError {
	if vm.halted.CompareAndSwap(false, true) {
		vm.exitStatus.Store(int32(status))
		log.Debugf("System.exit(%d)", status)
	}
	return &ExitError{Status: int(vm.exitStatus.Load())}
}

// Halted reports whether System.exit has been called, and with what status.
func (vm *VM) Halted() (int, bool) {
	if !vm.halted.Load() {
		return 0, false
	}
	return int(vm.exitStatus.Load()), true
}

func (vm *VM) exitError() *ExitError {
	status, _ := vm.Halted()
	return &ExitError{Status: status}
}

// ExitStatus maps the result of Run to a process exit status: 0 on normal
// completion, the System.exit status when one was requested, 1 otherwise.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Status
	}
	return 1
}

// ---------------------------------------------------------------------------
// Running programs
// ---------------------------------------------------------------------------

// Run executes mainClass.main(String[]) on a new main thread, then waits for
// every started thread. An uncaught exception is reported on stderr and
// returned.
func (vm *VM) Run(mainClass string, args []string) error {
	name := strings.ReplaceAll(mainClass, ".", "/")
	t := vm.NewThread("main")

	err := t.protect(func() error {
		k, err := vm.Loader.Load(name)
		if err != nil {
			return err
		}
		m := k.DeclaredMethod("main", "([Ljava/lang/String;)V")
		if m == nil || !m.IsStatic() {
			return &Error{Kind: ErrResolution, Class: name, Msg: "main method not found"}
		}
		if err := vm.Loader.Initialize(t, k); err != nil {
			return err
		}
		argv, err := vm.newStringArray(args)
		if err != nil {
			return err
		}
		_, err = t.Invoke(m, []Value{RefValue(argv)})
		return err
	})

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit
	}
	if err != nil {
		t.reportUncaught(err)
	}

	vm.threads.Wait()
	if status, halted := vm.Halted(); halted {
		return &ExitError{Status: status}
	}
	return err
}

func (vm *VM) newStringArray(items []string) (Ref, error) {
	strKlass, err := vm.Loader.Load("java/lang/String")
	if err != nil {
		return Null, err
	}
	arrKlass, err := vm.Loader.ArrayOf(strKlass)
	if err != nil {
		return Null, err
	}
	ref, err := vm.Heap.AllocateArray(arrKlass, len(items))
	if err != nil {
		return Null, err
	}
	arr := vm.Heap.Get(ref)
	for i, s := range items {
		sref, err := vm.NewString(s)
		if err != nil {
			return Null, err
		}
		arr.Elements[i] = RefValue(sref)
	}
	return ref, nil
}

// Mirror returns the java/lang/Class object for k, creating it on first
// use.
func (vm *VM) Mirror(k *Klass) (Ref, error) {
	k.mu.Lock()
	ref := k.mirror
	k.mu.Unlock()
	if ref != Null {
		return ref, nil
	}

	classKlass, err := vm.Loader.Load("java/lang/Class")
	if err != nil {
		return Null, err
	}
	ref, err = vm.Heap.AllocateInstance(classKlass)
	if err != nil {
		return Null, err
	}
	vm.Heap.Get(ref).Native = k

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mirror == Null {
		k.mirror = ref
	}
	return k.mirror, nil
}

// klassOfMirror returns the Klass behind a java/lang/Class object.
func (vm *VM) klassOfMirror(ref Ref) *Klass {
	obj := vm.Heap.Get(ref)
	if obj == nil {
		return nil
	}
	k, _ := obj.Native.(*Klass)
	return k
}
