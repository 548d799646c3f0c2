package vm

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/chazu/espresso/classfile"
	"github.com/chazu/espresso/classpath"
)

// ---------------------------------------------------------------------------
// Bootstrap class library
// ---------------------------------------------------------------------------

// BootstrapLabel names the built-in class-path entry.
const BootstrapLabel = "<bootstrap>"

var (
	bootOnce  sync.Once
	bootEntry *classpath.MemoryEntry
	bootErr   error
)

// bootstrapEntry returns the class-path entry holding the built-in
// java.lang classes. It is synthesized once and shared read-only by every
// VM.
func bootstrapEntry() (*classpath.MemoryEntry, error) {
	bootOnce.Do(func() {
		bootEntry, bootErr = buildBootstrap()
	})
	return bootEntry, bootErr
}

// BootstrapClasses lists the classes of the built-in library.
func BootstrapClasses() ([]string, error) {
	e, err := bootstrapEntry()
	if err != nil {
		return nil, err
	}
	return e.Classes()
}

const (
	objectClass = "java/lang/Object"

	accPublicNative       = classfile.AccPublic | classfile.AccNative
	accPublicStaticNative = classfile.AccPublic | classfile.AccStatic | classfile.AccNative
	accConstant           = classfile.AccPublic | classfile.AccStatic | classfile.AccFinal
)

// exceptionHierarchy lists the built-in exception classes with their
// superclasses, supers first.
var exceptionHierarchy = [][2]string{
	{"java/lang/Exception", throwableClass},
	{"java/lang/Error", throwableClass},
	{"java/lang/RuntimeException", "java/lang/Exception"},
	{"java/lang/InterruptedException", "java/lang/Exception"},
	{"java/lang/ArithmeticException", "java/lang/RuntimeException"},
	{"java/lang/NullPointerException", "java/lang/RuntimeException"},
	{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
	{"java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
	{"java/lang/StringIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
	{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException"},
	{"java/lang/ClassCastException", "java/lang/RuntimeException"},
	{"java/lang/ArrayStoreException", "java/lang/RuntimeException"},
	{"java/lang/IllegalArgumentException", "java/lang/RuntimeException"},
	{"java/lang/NumberFormatException", "java/lang/IllegalArgumentException"},
	{"java/lang/IllegalThreadStateException", "java/lang/IllegalArgumentException"},
	{"java/lang/IllegalStateException", "java/lang/RuntimeException"},
	{"java/lang/IllegalMonitorStateException", "java/lang/RuntimeException"},
	{"java/lang/UnsupportedOperationException", "java/lang/RuntimeException"},
	{"java/lang/LinkageError", "java/lang/Error"},
	{"java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"},
	{"java/lang/AbstractMethodError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/InstantiationError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/NoClassDefFoundError", "java/lang/LinkageError"},
	{"java/lang/VirtualMachineError", "java/lang/Error"},
	{"java/lang/OutOfMemoryError", "java/lang/VirtualMachineError"},
	{"java/lang/StackOverflowError", "java/lang/VirtualMachineError"},
}

// throwableConstructors are the constructor shapes every exception class
// forwards to its superclass.
var throwableConstructors = []struct {
	desc   string
	params int
}{
	{"()V", 0},
	{"(Ljava/lang/String;)V", 1},
	{"(Ljava/lang/String;Ljava/lang/Throwable;)V", 2},
	{"(Ljava/lang/Throwable;)V", 1},
}

func buildBootstrap() (*classpath.MemoryEntry, error) {
	builders := []*classfile.Builder{
		bootObject(),
		bootCharSequence(),
		bootString(),
		bootStringBuilder(),
		bootSystem(),
		bootPrintStream(),
		bootMath(),
		bootInteger(),
		bootClass(),
		bootRunnable(),
		bootThread(),
		bootThrowable(),
	}
	for _, e := range exceptionHierarchy {
		builders = append(builders, bootException(e[0], e[1]))
	}

	entry := classpath.NewMemoryEntry(BootstrapLabel)
	for _, b := range builders {
		cf := b.Build()
		name, err := cf.ClassName()
		if err != nil {
			return nil, err
		}
		data, err := cf.Bytes()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		entry.Put(name, data)
	}
	log.Debugf("bootstrap library: %d classes", len(builders))
	return entry, nil
}

// declare adds methods without bytecode (native or abstract) given as
// "name(descriptor)return".
func declare(b *classfile.Builder, access uint16, sigs ...string) {
	for _, sig := range sigs {
		i := strings.IndexByte(sig, '(')
		b.AddMethod(classfile.MethodSpec{Access: access, Name: sig[:i], Descriptor: sig[i:]})
	}
}

func code(maxStack, maxLocals uint16, bc *BytecodeBuilder) *classfile.CodeAttribute {
	return &classfile.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: bc.Bytes()}
}

// superConstructor emits a constructor that passes its arguments to the
// superclass constructor of the same descriptor.
func superConstructor(b *classfile.Builder, super, desc string, params int) {
	bc := NewBytecodeBuilder().Emit(OpAload0)
	for i := 1; i <= params; i++ {
		bc.EmitLocal(OpAload, i)
	}
	bc.EmitUint16(OpInvokespecial, b.Methodref(super, "<init>", desc)).Emit(OpReturn)
	n := uint16(params + 1)
	b.AddMethod(classfile.MethodSpec{Access: classfile.AccPublic, Name: "<init>", Descriptor: desc, Code: code(n, n, bc)})
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func bootObject() *classfile.Builder {
	b := classfile.NewBuilder(objectClass, "")
	b.AddMethod(classfile.MethodSpec{
		Access:     classfile.AccPublic,
		Name:       "<init>",
		Descriptor: "()V",
		Code:       code(0, 1, NewBytecodeBuilder().Emit(OpReturn)),
	})
	declare(b, accPublicNative,
		"hashCode()I",
		"equals(Ljava/lang/Object;)Z",
		"toString()Ljava/lang/String;",
		"wait()V",
		"wait(J)V",
		"notify()V",
		"notifyAll()V",
	)
	declare(b, accPublicNative|classfile.AccFinal, "getClass()Ljava/lang/Class;")
	declare(b, classfile.AccProtected|classfile.AccNative, "clone()Ljava/lang/Object;")
	return b
}

func bootCharSequence() *classfile.Builder {
	b := classfile.NewBuilder("java/lang/CharSequence", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	declare(b, classfile.AccPublic|classfile.AccAbstract,
		"length()I",
		"charAt(I)C",
		"toString()Ljava/lang/String;",
	)
	return b
}

func bootString() *classfile.Builder {
	b := classfile.NewBuilder(stringClass, objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	b.AddInterface("java/lang/CharSequence")
	b.AddField(classfile.AccPrivate|classfile.AccFinal, stringValueField, charArray)
	declare(b, accPublicNative,
		"<init>()V",
		"<init>([C)V",
		"<init>(Ljava/lang/String;)V",
		"length()I",
		"charAt(I)C",
		"isEmpty()Z",
		"equals(Ljava/lang/Object;)Z",
		"hashCode()I",
		"toString()Ljava/lang/String;",
		"compareTo(Ljava/lang/String;)I",
		"concat(Ljava/lang/String;)Ljava/lang/String;",
		"substring(I)Ljava/lang/String;",
		"substring(II)Ljava/lang/String;",
		"indexOf(I)I",
		"indexOf(Ljava/lang/String;)I",
		"contains(Ljava/lang/CharSequence;)Z",
		"startsWith(Ljava/lang/String;)Z",
		"endsWith(Ljava/lang/String;)Z",
		"toUpperCase()Ljava/lang/String;",
		"toLowerCase()Ljava/lang/String;",
		"trim()Ljava/lang/String;",
		"intern()Ljava/lang/String;",
		"toCharArray()[C",
	)
	declare(b, accPublicStaticNative,
		"valueOf(I)Ljava/lang/String;",
		"valueOf(J)Ljava/lang/String;",
		"valueOf(F)Ljava/lang/String;",
		"valueOf(D)Ljava/lang/String;",
		"valueOf(Z)Ljava/lang/String;",
		"valueOf(C)Ljava/lang/String;",
		"valueOf(Ljava/lang/Object;)Ljava/lang/String;",
		"valueOf([C)Ljava/lang/String;",
	)
	return b
}

func bootStringBuilder() *classfile.Builder {
	const self = "Ljava/lang/StringBuilder;"
	b := classfile.NewBuilder("java/lang/StringBuilder", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	b.AddInterface("java/lang/CharSequence")
	declare(b, accPublicNative,
		"<init>()V",
		"<init>(I)V",
		"<init>(Ljava/lang/String;)V",
		"toString()Ljava/lang/String;",
		"length()I",
		"reverse()"+self,
	)
	for _, arg := range []string{"Ljava/lang/String;", "Ljava/lang/CharSequence;", "Ljava/lang/Object;", "I", "J", "F", "D", "Z", "C", "[C"} {
		declare(b, accPublicNative, "append("+arg+")"+self)
	}
	return b
}

func bootSystem() *classfile.Builder {
	b := classfile.NewBuilder("java/lang/System", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	b.AddField(accConstant, "out", "L"+printStreamClass+";")
	b.AddField(accConstant, "err", "L"+printStreamClass+";")
	declare(b, classfile.AccStatic|classfile.AccNative, "<clinit>()V")
	declare(b, accPublicStaticNative,
		"exit(I)V",
		"arraycopy(Ljava/lang/Object;ILjava/lang/Object;II)V",
		"currentTimeMillis()J",
		"nanoTime()J",
		"identityHashCode(Ljava/lang/Object;)I",
		"lineSeparator()Ljava/lang/String;",
	)
	return b
}

func bootPrintStream() *classfile.Builder {
	b := classfile.NewBuilder(printStreamClass, objectClass)
	declare(b, accPublicNative, "println()V", "flush()V")
	for _, arg := range []string{"Ljava/lang/String;", "Ljava/lang/Object;", "I", "J", "F", "D", "Z", "C", "[C"} {
		declare(b, accPublicNative, "println("+arg+")V", "print("+arg+")V")
	}
	return b
}

func bootMath() *classfile.Builder {
	b := classfile.NewBuilder("java/lang/Math", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	b.AddConstantField(accConstant, "PI", "D", b.Double(math.Pi))
	b.AddConstantField(accConstant, "E", "D", b.Double(math.E))
	for _, t := range []string{"I", "J", "F", "D"} {
		declare(b, accPublicStaticNative,
			"abs("+t+")"+t,
			"max("+t+t+")"+t,
			"min("+t+t+")"+t,
		)
	}
	declare(b, accPublicStaticNative,
		"sqrt(D)D",
		"floor(D)D",
		"ceil(D)D",
		"pow(DD)D",
		"random()D",
	)
	return b
}

func bootInteger() *classfile.Builder {
	const self = "java/lang/Integer"
	b := classfile.NewBuilder(self, objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	b.AddField(classfile.AccPrivate|classfile.AccFinal, "value", "I")
	b.AddConstantField(accConstant, "MAX_VALUE", "I", b.Integer(math.MaxInt32))
	b.AddConstantField(accConstant, "MIN_VALUE", "I", b.Integer(math.MinInt32))

	value := b.Fieldref(self, "value", "I")
	b.AddMethod(classfile.MethodSpec{
		Access:     classfile.AccPublic,
		Name:       "<init>",
		Descriptor: "(I)V",
		Code: code(2, 2, NewBytecodeBuilder().
			Emit(OpAload0).
			EmitUint16(OpInvokespecial, b.Methodref(objectClass, "<init>", "()V")).
			Emit(OpAload0, OpIload1).
			EmitUint16(OpPutfield, value).
			Emit(OpReturn)),
	})
	b.AddMethod(classfile.MethodSpec{
		Access:     classfile.AccPublic,
		Name:       "intValue",
		Descriptor: "()I",
		Code: code(1, 1, NewBytecodeBuilder().
			Emit(OpAload0).
			EmitUint16(OpGetfield, value).
			Emit(OpIreturn)),
	})

	declare(b, accPublicNative,
		"toString()Ljava/lang/String;",
		"hashCode()I",
		"equals(Ljava/lang/Object;)Z",
	)
	declare(b, accPublicStaticNative,
		"parseInt(Ljava/lang/String;)I",
		"parseInt(Ljava/lang/String;I)I",
		"valueOf(I)Ljava/lang/Integer;",
		"valueOf(Ljava/lang/String;)Ljava/lang/Integer;",
		"toString(I)Ljava/lang/String;",
		"toHexString(I)Ljava/lang/String;",
		"toBinaryString(I)Ljava/lang/String;",
		"compare(II)I",
	)
	return b
}

func bootClass() *classfile.Builder {
	b := classfile.NewBuilder("java/lang/Class", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccFinal | classfile.AccSuper)
	declare(b, accPublicNative,
		"getName()Ljava/lang/String;",
		"getSimpleName()Ljava/lang/String;",
		"toString()Ljava/lang/String;",
		"isInterface()Z",
		"isArray()Z",
	)
	return b
}

func bootRunnable() *classfile.Builder {
	b := classfile.NewBuilder("java/lang/Runnable", objectClass)
	b.SetAccess(classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract)
	declare(b, classfile.AccPublic|classfile.AccAbstract, "run()V")
	return b
}

func bootThread() *classfile.Builder {
	b := classfile.NewBuilder(threadClass, objectClass)
	b.AddInterface("java/lang/Runnable")
	b.AddField(classfile.AccPrivate, "target", runnableField)
	b.AddField(classfile.AccPrivate, "name", stringField)

	// run() { if (target != null) target.run(); }
	run := NewBytecodeBuilder()
	done := run.NewLabel()
	run.Emit(OpAload0).
		EmitUint16(OpGetfield, b.Fieldref(threadClass, "target", runnableField)).
		Emit(OpAstore1, OpAload1).
		EmitJump(OpIfnull, done).
		Emit(OpAload1).
		EmitInvokeInterface(b.InterfaceMethodref("java/lang/Runnable", "run", "()V"), 1).
		Mark(done).
		Emit(OpReturn)
	b.AddMethod(classfile.MethodSpec{Access: classfile.AccPublic, Name: "run", Descriptor: "()V", Code: code(1, 2, run)})

	declare(b, accPublicNative,
		"<init>()V",
		"<init>(Ljava/lang/Runnable;)V",
		"<init>(Ljava/lang/Runnable;Ljava/lang/String;)V",
		"<init>(Ljava/lang/String;)V",
		"start()V",
		"join()V",
		"join(J)V",
		"getName()Ljava/lang/String;",
		"getId()J",
		"isAlive()Z",
	)
	declare(b, accPublicStaticNative,
		"sleep(J)V",
		"currentThread()Ljava/lang/Thread;",
	)
	return b
}

func bootThrowable() *classfile.Builder {
	b := classfile.NewBuilder(throwableClass, objectClass)
	b.AddField(classfile.AccPrivate, "detailMessage", stringField)
	b.AddField(classfile.AccPrivate, "cause", throwableField)
	for _, c := range throwableConstructors {
		declare(b, accPublicNative, "<init>"+c.desc)
	}
	declare(b, accPublicNative,
		"fillInStackTrace()Ljava/lang/Throwable;",
		"getMessage()Ljava/lang/String;",
		"getCause()Ljava/lang/Throwable;",
		"toString()Ljava/lang/String;",
		"printStackTrace()V",
	)
	return b
}

func bootException(name, super string) *classfile.Builder {
	b := classfile.NewBuilder(name, super)
	for _, c := range throwableConstructors {
		superConstructor(b, super, c.desc, c.params)
	}
	return b
}
