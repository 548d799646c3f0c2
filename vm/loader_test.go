package vm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/espresso/classfile"
)

func TestLoaderStateTransitions(t *testing.T) {
	p := newTestProgram(t)
	parent := classfile.NewBuilder("demo/Parent", "java/lang/Object")
	p.add(parent)
	child := classfile.NewBuilder("demo/Child", "demo/Parent")
	p.add(child)

	machine, _, _ := p.newVM(Options{})
	var mu sync.Mutex
	var events []string
	machine.Loader.OnStateChange = func(k *Klass, from, to ClassState) {
		if !strings.HasPrefix(k.Name, "demo/") {
			return
		}
		mu.Lock()
		events = append(events, fmt.Sprintf("%s %s->%s", k.Name, from, to))
		mu.Unlock()
	}

	k, err := machine.Loader.Load("demo/Child")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k.State() != Linked {
		t.Errorf("state after Load = %s, want Linked", k.State())
	}
	if err := machine.Loader.Initialize(machine.NewThread("test"), k); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []string{
		"demo/Child Allocated->Loaded",
		"demo/Parent Allocated->Loaded",
		"demo/Parent Loaded->Linked",
		"demo/Child Loaded->Linked",
		"demo/Child Linked->BeingInitialized",
		"demo/Parent Linked->BeingInitialized",
		"demo/Parent BeingInitialized->FullyInitialized",
		"demo/Child BeingInitialized->FullyInitialized",
	}
	if strings.Join(events, "\n") != strings.Join(want, "\n") {
		t.Errorf("transitions:\n%s\nwant:\n%s", strings.Join(events, "\n"), strings.Join(want, "\n"))
	}
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to ClassState
		want     bool
	}{
		{Allocated, Loaded, true},
		{Loaded, Linked, true},
		{Linked, Loaded, false},
		{FullyInitialized, BeingInitialized, false},
		{BeingInitialized, InitializationError, true},
		{InitializationError, FullyInitialized, false},
		{InitializationError, InitializationError, false},
	}
	for _, tt := range tests {
		if got := canAdvance(tt.from, tt.to); got != tt.want {
			t.Errorf("canAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLoaderFieldLayout(t *testing.T) {
	p := newTestProgram(t)
	parent := classfile.NewBuilder("demo/Base", "java/lang/Object")
	parent.AddField(classfile.AccPrivate, "a", "I")
	parent.AddField(classfile.AccPrivate, "b", "J")
	p.add(parent)
	child := classfile.NewBuilder("demo/Derived", "demo/Base")
	child.AddField(classfile.AccPublic|classfile.AccStatic, "count", "I")
	child.AddField(classfile.AccPublic, "c", "Ljava/lang/Object;")
	child.AddConstantField(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, "LIMIT", "J", child.Long(99))
	p.add(child)

	machine, _, _ := p.newVM(Options{})
	k, err := machine.Loader.Load("demo/Derived")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var names []string
	for i, f := range k.InstanceLayout() {
		if f.Offset != i {
			t.Errorf("field %s has offset %d, want %d", f.Name, f.Offset, i)
		}
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "a,b,c" {
		t.Errorf("layout = %s, want a,b,c", got)
	}
	if k.InstanceFieldCount != 3 {
		t.Errorf("InstanceFieldCount = %d, want 3", k.InstanceFieldCount)
	}

	if f := k.LookupField("a", "I"); f == nil || f.Owner.Name != "demo/Base" {
		t.Errorf("LookupField(a) = %v, want the inherited field", f)
	}
	count := k.DeclaredField("count", "I")
	limit := k.DeclaredField("LIMIT", "J")
	if count == nil || !count.Static || limit == nil || !limit.Static {
		t.Fatalf("statics not declared: %v %v", count, limit)
	}
	if count.Offset == limit.Offset {
		t.Error("static fields share a slot")
	}

	if err := machine.Loader.Initialize(machine.NewThread("test"), k); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if v := k.GetStatic(limit.Offset); v.Long() != 99 {
		t.Errorf("LIMIT = %v, want 99", v)
	}
	if v := k.GetStatic(count.Offset); v.Kind != ValInt || v.Int() != 0 {
		t.Errorf("count = %v, want int 0", v)
	}

	obj, err := machine.Heap.AllocateInstance(k)
	if err != nil {
		t.Fatalf("AllocateInstance: %v", err)
	}
	c, ok := machine.Heap.Get(obj).FieldByName("c", "Ljava/lang/Object;")
	if !ok || !c.IsNull() {
		t.Errorf("new instance field c = %v, %v; want null", c, ok)
	}
}

func TestLoaderLinkageErrors(t *testing.T) {
	p := newTestProgram(t)

	sealed := classfile.NewBuilder("demo/Sealed", "java/lang/Object")
	sealed.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	p.add(sealed)
	p.add(classfile.NewBuilder("demo/Sub", "demo/Sealed"))

	p.add(classfile.NewBuilder("demo/A", "demo/B"))
	p.add(classfile.NewBuilder("demo/B", "demo/A"))

	p.add(classfile.NewBuilder("demo/Impl", "java/lang/Runnable"))
	p.add(classfile.NewBuilder("demo/Orphan", "demo/Missing"))

	machine, _, _ := p.newVM(Options{})
	tests := []struct {
		class string
		msg   string
	}{
		{"demo/Sub", "cannot inherit from final class demo/Sealed"},
		{"demo/A", "class circularity"},
		{"demo/Impl", "is an interface"},
		{"demo/Orphan", "superclass demo/Missing"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			_, err := machine.Loader.Load(tt.class)
			if !IsKind(err, ErrLinkage) {
				t.Fatalf("Load err = %v, want LinkageError", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.msg)
			}

			// The failure is recorded.
			_, again := machine.Loader.Load(tt.class)
			if !IsKind(again, ErrLinkage) {
				t.Errorf("second Load err = %v, want LinkageError", again)
			}
		})
	}
}

func TestLoaderLoadErrors(t *testing.T) {
	p := newTestProgram(t)
	p.entry.Put("demo/Garbage", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00})
	data, err := classfile.NewBuilder("demo/Real", "java/lang/Object").Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p.entry.Put("demo/Alias", data)

	machine, _, _ := p.newVM(Options{})
	tests := []struct {
		class string
		kind  ErrorKind
	}{
		{"demo/Nowhere", ErrClassNotFound},
		{"demo/Garbage", ErrClassFormat},
		{"demo/Alias", ErrClassNotFound},
	}
	for _, tt := range tests {
		if _, err := machine.Loader.Load(tt.class); !IsKind(err, tt.kind) {
			t.Errorf("Load(%s) = %v, want %s", tt.class, err, tt.kind)
		}
	}
	if machine.Classes.Has("demo/Nowhere") {
		t.Error("missing class was registered")
	}
}

func TestLoaderArrayClasses(t *testing.T) {
	machine, _, _ := newTestProgram(t).newVM(Options{})

	ints, err := machine.Loader.Load("[[I")
	if err != nil {
		t.Fatalf("Load([[I): %v", err)
	}
	if ints.Kind != KindTypeArray || ints.Dimension != 2 || ints.Elem != TInt {
		t.Errorf("[[I = kind %s dim %d elem %c", ints.Kind, ints.Dimension, ints.Elem)
	}
	if ints.Down == nil || ints.Down.Name != "[I" {
		t.Errorf("[[I.Down = %v, want [I", ints.Down)
	}
	if ints.State() != FullyInitialized {
		t.Errorf("array state = %s, want FullyInitialized", ints.State())
	}

	strs, err := machine.Loader.Load("[Ljava/lang/String;")
	if err != nil {
		t.Fatalf("Load(String[]): %v", err)
	}
	objs, err := machine.Loader.Load("[Ljava/lang/Object;")
	if err != nil {
		t.Fatalf("Load(Object[]): %v", err)
	}
	if strs.Kind != KindObjectArray || strs.Component.Name != stringClass {
		t.Errorf("String[] = kind %s component %v", strs.Kind, strs.Component)
	}
	if !strs.IsAssignableTo(objs) {
		t.Error("String[] should be assignable to Object[]")
	}
	if objs.IsAssignableTo(strs) {
		t.Error("Object[] should not be assignable to String[]")
	}
	if !ints.IsAssignableTo(objs) {
		t.Error("int[][] should be assignable to Object[]")
	}
	flat, _ := machine.Loader.PrimitiveArray(TInt)
	if flat.IsAssignableTo(objs) {
		t.Error("int[] should not be assignable to Object[]")
	}

	again, _ := machine.Loader.Load("[Ljava/lang/String;")
	if again != strs {
		t.Error("array class was created twice")
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	p := newTestProgram(t)
	b := classfile.NewBuilder("demo/Counter", "java/lang/Object")
	b.AddField(classfile.AccPublic|classfile.AccStatic, "COUNT", "I")
	count := b.Fieldref("demo/Counter", "COUNT", "I")
	clinit := NewBytecodeBuilder()
	clinit.EmitUint16(OpLdc2W, b.Long(20)).
		EmitUint16(OpInvokestatic, b.Methodref(threadClass, "sleep", "(J)V"))
	clinit.EmitUint16(OpGetstatic, count).Emit(OpIconst1, OpIadd).EmitUint16(OpPutstatic, count)
	clinit.Emit(OpReturn)
	addCode(b, classfile.AccStatic, "<clinit>", "()V", 2, 0, clinit)
	p.add(b)

	machine, _, _ := p.newVM(Options{})
	k, err := machine.Loader.Load("demo/Counter")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = machine.Loader.Initialize(machine.NewThread(fmt.Sprintf("init-%d", i)), k)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Initialize #%d: %v", i, err)
		}
	}
	if v := k.GetStatic(k.DeclaredField("COUNT", "I").Offset); v.Int() != 1 {
		t.Errorf("COUNT = %d, want 1", v.Int())
	}
	if k.State() != FullyInitialized {
		t.Errorf("state = %s, want FullyInitialized", k.State())
	}
}

func TestInitializeFailure(t *testing.T) {
	p := newTestProgram(t)
	b := classfile.NewBuilder("demo/Broken", "java/lang/Object")
	addCode(b, classfile.AccStatic, "<clinit>", "()V", 2, 0,
		NewBytecodeBuilder().Emit(OpIconst1, OpIconst0, OpIdiv, OpPop, OpReturn))
	p.add(b)

	machine, _, _ := p.newVM(Options{})
	k, err := machine.Loader.Load("demo/Broken")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	th := machine.NewThread("test")

	err = machine.Loader.Initialize(th, k)
	var thrown *Throwable
	if !errors.As(err, &thrown) || thrown.Class != "java/lang/ArithmeticException" {
		t.Fatalf("first Initialize = %v, want ArithmeticException", err)
	}
	if k.State() != InitializationError {
		t.Errorf("state = %s, want InitializationError", k.State())
	}

	err = machine.Loader.Initialize(th, k)
	if !IsKind(err, ErrInitialization) {
		t.Errorf("second Initialize = %v, want InitializationError", err)
	}
	if !strings.Contains(err.Error(), "Could not initialize class demo.Broken") {
		t.Errorf("err = %v", err)
	}
}
