package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/chazu/espresso/classfile"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single JVM instruction.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10
	OpSipush     Opcode = 0x11
	OpLdc        Opcode = 0x12
	OpLdcW       Opcode = 0x13
	OpLdc2W      Opcode = 0x14
)

// Loads
const (
	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIload0 Opcode = 0x1A
	OpIload1 Opcode = 0x1B
	OpIload2 Opcode = 0x1C
	OpIload3 Opcode = 0x1D
	OpLload0 Opcode = 0x1E
	OpLload1 Opcode = 0x1F
	OpLload2 Opcode = 0x20
	OpLload3 Opcode = 0x21
	OpFload0 Opcode = 0x22
	OpFload1 Opcode = 0x23
	OpFload2 Opcode = 0x24
	OpFload3 Opcode = 0x25
	OpDload0 Opcode = 0x26
	OpDload1 Opcode = 0x27
	OpDload2 Opcode = 0x28
	OpDload3 Opcode = 0x29
	OpAload0 Opcode = 0x2A
	OpAload1 Opcode = 0x2B
	OpAload2 Opcode = 0x2C
	OpAload3 Opcode = 0x2D
	OpIaload Opcode = 0x2E
	OpLaload Opcode = 0x2F
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35
)

// Stores
const (
	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIstore0 Opcode = 0x3B
	OpIstore1 Opcode = 0x3C
	OpIstore2 Opcode = 0x3D
	OpIstore3 Opcode = 0x3E
	OpLstore0 Opcode = 0x3F
	OpLstore1 Opcode = 0x40
	OpLstore2 Opcode = 0x41
	OpLstore3 Opcode = 0x42
	OpFstore0 Opcode = 0x43
	OpFstore1 Opcode = 0x44
	OpFstore2 Opcode = 0x45
	OpFstore3 Opcode = 0x46
	OpDstore0 Opcode = 0x47
	OpDstore1 Opcode = 0x48
	OpDstore2 Opcode = 0x49
	OpDstore3 Opcode = 0x4A
	OpAstore0 Opcode = 0x4B
	OpAstore1 Opcode = 0x4C
	OpAstore2 Opcode = 0x4D
	OpAstore3 Opcode = 0x4E
	OpIastore Opcode = 0x4F
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56
)

// Stack
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F
)

// Math
const (
	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6A
	OpDmul  Opcode = 0x6B
	OpIdiv  Opcode = 0x6C
	OpLdiv  Opcode = 0x6D
	OpFdiv  Opcode = 0x6E
	OpDdiv  Opcode = 0x6F
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7A
	OpLshr  Opcode = 0x7B
	OpIushr Opcode = 0x7C
	OpLushr Opcode = 0x7D
	OpIand  Opcode = 0x7E
	OpLand  Opcode = 0x7F
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84
)

// Conversions
const (
	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8A
	OpF2i Opcode = 0x8B
	OpF2l Opcode = 0x8C
	OpF2d Opcode = 0x8D
	OpD2i Opcode = 0x8E
	OpD2l Opcode = 0x8F
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93
)

// Comparisons
const (
	OpLcmp     Opcode = 0x94
	OpFcmpl    Opcode = 0x95
	OpFcmpg    Opcode = 0x96
	OpDcmpl    Opcode = 0x97
	OpDcmpg    Opcode = 0x98
	OpIfeq     Opcode = 0x99
	OpIfne     Opcode = 0x9A
	OpIflt     Opcode = 0x9B
	OpIfge     Opcode = 0x9C
	OpIfgt     Opcode = 0x9D
	OpIfle     Opcode = 0x9E
	OpIfIcmpeq Opcode = 0x9F
	OpIfIcmpne Opcode = 0xA0
	OpIfIcmplt Opcode = 0xA1
	OpIfIcmpge Opcode = 0xA2
	OpIfIcmpgt Opcode = 0xA3
	OpIfIcmple Opcode = 0xA4
	OpIfAcmpeq Opcode = 0xA5
	OpIfAcmpne Opcode = 0xA6
)

// Control
const (
	OpGoto         Opcode = 0xA7
	OpJsr          Opcode = 0xA8
	OpRet          Opcode = 0xA9
	OpTableswitch  Opcode = 0xAA
	OpLookupswitch Opcode = 0xAB
	OpIreturn      Opcode = 0xAC
	OpLreturn      Opcode = 0xAD
	OpFreturn      Opcode = 0xAE
	OpDreturn      Opcode = 0xAF
	OpAreturn      Opcode = 0xB0
	OpReturn       Opcode = 0xB1
)

// References
const (
	OpGetstatic       Opcode = 0xB2
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9
	OpInvokedynamic   Opcode = 0xBA
	OpNew             Opcode = 0xBB
	OpNewarray        Opcode = 0xBC
	OpAnewarray       Opcode = 0xBD
	OpArraylength     Opcode = 0xBE
	OpAthrow          Opcode = 0xBF
	OpCheckcast       Opcode = 0xC0
	OpInstanceof      Opcode = 0xC1
	OpMonitorenter    Opcode = 0xC2
	OpMonitorexit     Opcode = 0xC3
)

// Extended
const (
	OpWide           Opcode = 0xC4
	OpMultianewarray Opcode = 0xC5
	OpIfnull         Opcode = 0xC6
	OpIfnonnull      Opcode = 0xC7
	OpGotoW          Opcode = 0xC8
	OpJsrW           Opcode = 0xC9
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // mnemonic as printed by javap
	OperandBytes int    // fixed operand length, -1 for tableswitch, lookupswitch and wide
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:             {"nop", 0},
	OpAconstNull:      {"aconst_null", 0},
	OpIconstM1:        {"iconst_m1", 0},
	OpIconst0:         {"iconst_0", 0},
	OpIconst1:         {"iconst_1", 0},
	OpIconst2:         {"iconst_2", 0},
	OpIconst3:         {"iconst_3", 0},
	OpIconst4:         {"iconst_4", 0},
	OpIconst5:         {"iconst_5", 0},
	OpLconst0:         {"lconst_0", 0},
	OpLconst1:         {"lconst_1", 0},
	OpFconst0:         {"fconst_0", 0},
	OpFconst1:         {"fconst_1", 0},
	OpFconst2:         {"fconst_2", 0},
	OpDconst0:         {"dconst_0", 0},
	OpDconst1:         {"dconst_1", 0},
	OpBipush:          {"bipush", 1},
	OpSipush:          {"sipush", 2},
	OpLdc:             {"ldc", 1},
	OpLdcW:            {"ldc_w", 2},
	OpLdc2W:           {"ldc2_w", 2},
	OpIload:           {"iload", 1},
	OpLload:           {"lload", 1},
	OpFload:           {"fload", 1},
	OpDload:           {"dload", 1},
	OpAload:           {"aload", 1},
	OpIload0:          {"iload_0", 0},
	OpIload1:          {"iload_1", 0},
	OpIload2:          {"iload_2", 0},
	OpIload3:          {"iload_3", 0},
	OpLload0:          {"lload_0", 0},
	OpLload1:          {"lload_1", 0},
	OpLload2:          {"lload_2", 0},
	OpLload3:          {"lload_3", 0},
	OpFload0:          {"fload_0", 0},
	OpFload1:          {"fload_1", 0},
	OpFload2:          {"fload_2", 0},
	OpFload3:          {"fload_3", 0},
	OpDload0:          {"dload_0", 0},
	OpDload1:          {"dload_1", 0},
	OpDload2:          {"dload_2", 0},
	OpDload3:          {"dload_3", 0},
	OpAload0:          {"aload_0", 0},
	OpAload1:          {"aload_1", 0},
	OpAload2:          {"aload_2", 0},
	OpAload3:          {"aload_3", 0},
	OpIaload:          {"iaload", 0},
	OpLaload:          {"laload", 0},
	OpFaload:          {"faload", 0},
	OpDaload:          {"daload", 0},
	OpAaload:          {"aaload", 0},
	OpBaload:          {"baload", 0},
	OpCaload:          {"caload", 0},
	OpSaload:          {"saload", 0},
	OpIstore:          {"istore", 1},
	OpLstore:          {"lstore", 1},
	OpFstore:          {"fstore", 1},
	OpDstore:          {"dstore", 1},
	OpAstore:          {"astore", 1},
	OpIstore0:         {"istore_0", 0},
	OpIstore1:         {"istore_1", 0},
	OpIstore2:         {"istore_2", 0},
	OpIstore3:         {"istore_3", 0},
	OpLstore0:         {"lstore_0", 0},
	OpLstore1:         {"lstore_1", 0},
	OpLstore2:         {"lstore_2", 0},
	OpLstore3:         {"lstore_3", 0},
	OpFstore0:         {"fstore_0", 0},
	OpFstore1:         {"fstore_1", 0},
	OpFstore2:         {"fstore_2", 0},
	OpFstore3:         {"fstore_3", 0},
	OpDstore0:         {"dstore_0", 0},
	OpDstore1:         {"dstore_1", 0},
	OpDstore2:         {"dstore_2", 0},
	OpDstore3:         {"dstore_3", 0},
	OpAstore0:         {"astore_0", 0},
	OpAstore1:         {"astore_1", 0},
	OpAstore2:         {"astore_2", 0},
	OpAstore3:         {"astore_3", 0},
	OpIastore:         {"iastore", 0},
	OpLastore:         {"lastore", 0},
	OpFastore:         {"fastore", 0},
	OpDastore:         {"dastore", 0},
	OpAastore:         {"aastore", 0},
	OpBastore:         {"bastore", 0},
	OpCastore:         {"castore", 0},
	OpSastore:         {"sastore", 0},
	OpPop:             {"pop", 0},
	OpPop2:            {"pop2", 0},
	OpDup:             {"dup", 0},
	OpDupX1:           {"dup_x1", 0},
	OpDupX2:           {"dup_x2", 0},
	OpDup2:            {"dup2", 0},
	OpDup2X1:          {"dup2_x1", 0},
	OpDup2X2:          {"dup2_x2", 0},
	OpSwap:            {"swap", 0},
	OpIadd:            {"iadd", 0},
	OpLadd:            {"ladd", 0},
	OpFadd:            {"fadd", 0},
	OpDadd:            {"dadd", 0},
	OpIsub:            {"isub", 0},
	OpLsub:            {"lsub", 0},
	OpFsub:            {"fsub", 0},
	OpDsub:            {"dsub", 0},
	OpImul:            {"imul", 0},
	OpLmul:            {"lmul", 0},
	OpFmul:            {"fmul", 0},
	OpDmul:            {"dmul", 0},
	OpIdiv:            {"idiv", 0},
	OpLdiv:            {"ldiv", 0},
	OpFdiv:            {"fdiv", 0},
	OpDdiv:            {"ddiv", 0},
	OpIrem:            {"irem", 0},
	OpLrem:            {"lrem", 0},
	OpFrem:            {"frem", 0},
	OpDrem:            {"drem", 0},
	OpIneg:            {"ineg", 0},
	OpLneg:            {"lneg", 0},
	OpFneg:            {"fneg", 0},
	OpDneg:            {"dneg", 0},
	OpIshl:            {"ishl", 0},
	OpLshl:            {"lshl", 0},
	OpIshr:            {"ishr", 0},
	OpLshr:            {"lshr", 0},
	OpIushr:           {"iushr", 0},
	OpLushr:           {"lushr", 0},
	OpIand:            {"iand", 0},
	OpLand:            {"land", 0},
	OpIor:             {"ior", 0},
	OpLor:             {"lor", 0},
	OpIxor:            {"ixor", 0},
	OpLxor:            {"lxor", 0},
	OpIinc:            {"iinc", 2},
	OpI2l:             {"i2l", 0},
	OpI2f:             {"i2f", 0},
	OpI2d:             {"i2d", 0},
	OpL2i:             {"l2i", 0},
	OpL2f:             {"l2f", 0},
	OpL2d:             {"l2d", 0},
	OpF2i:             {"f2i", 0},
	OpF2l:             {"f2l", 0},
	OpF2d:             {"f2d", 0},
	OpD2i:             {"d2i", 0},
	OpD2l:             {"d2l", 0},
	OpD2f:             {"d2f", 0},
	OpI2b:             {"i2b", 0},
	OpI2c:             {"i2c", 0},
	OpI2s:             {"i2s", 0},
	OpLcmp:            {"lcmp", 0},
	OpFcmpl:           {"fcmpl", 0},
	OpFcmpg:           {"fcmpg", 0},
	OpDcmpl:           {"dcmpl", 0},
	OpDcmpg:           {"dcmpg", 0},
	OpIfeq:            {"ifeq", 2},
	OpIfne:            {"ifne", 2},
	OpIflt:            {"iflt", 2},
	OpIfge:            {"ifge", 2},
	OpIfgt:            {"ifgt", 2},
	OpIfle:            {"ifle", 2},
	OpIfIcmpeq:        {"if_icmpeq", 2},
	OpIfIcmpne:        {"if_icmpne", 2},
	OpIfIcmplt:        {"if_icmplt", 2},
	OpIfIcmpge:        {"if_icmpge", 2},
	OpIfIcmpgt:        {"if_icmpgt", 2},
	OpIfIcmple:        {"if_icmple", 2},
	OpIfAcmpeq:        {"if_acmpeq", 2},
	OpIfAcmpne:        {"if_acmpne", 2},
	OpGoto:            {"goto", 2},
	OpJsr:             {"jsr", 2},
	OpRet:             {"ret", 1},
	OpTableswitch:     {"tableswitch", -1},
	OpLookupswitch:    {"lookupswitch", -1},
	OpIreturn:         {"ireturn", 0},
	OpLreturn:         {"lreturn", 0},
	OpFreturn:         {"freturn", 0},
	OpDreturn:         {"dreturn", 0},
	OpAreturn:         {"areturn", 0},
	OpReturn:          {"return", 0},
	OpGetstatic:       {"getstatic", 2},
	OpPutstatic:       {"putstatic", 2},
	OpGetfield:        {"getfield", 2},
	OpPutfield:        {"putfield", 2},
	OpInvokevirtual:   {"invokevirtual", 2},
	OpInvokespecial:   {"invokespecial", 2},
	OpInvokestatic:    {"invokestatic", 2},
	OpInvokeinterface: {"invokeinterface", 4},
	OpInvokedynamic:   {"invokedynamic", 4},
	OpNew:             {"new", 2},
	OpNewarray:        {"newarray", 1},
	OpAnewarray:       {"anewarray", 2},
	OpArraylength:     {"arraylength", 0},
	OpAthrow:          {"athrow", 0},
	OpCheckcast:       {"checkcast", 2},
	OpInstanceof:      {"instanceof", 2},
	OpMonitorenter:    {"monitorenter", 0},
	OpMonitorexit:     {"monitorexit", 0},
	OpWide:            {"wide", -1},
	OpMultianewarray:  {"multianewarray", 3},
	OpIfnull:          {"ifnull", 2},
	OpIfnonnull:       {"ifnonnull", 2},
	OpGotoW:           {"goto_w", 4},
	OpJsrW:            {"jsr_w", 4},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op)), OperandBytes: 0}
}

// Known reports whether op is a defined instruction.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsBranch reports whether op carries a branch offset relative to its own
// address.
func (op Opcode) IsBranch() bool {
	switch {
	case op >= OpIfeq && op <= OpJsr:
		return true
	case op == OpIfnull, op == OpIfnonnull, op == OpGotoW, op == OpJsrW:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct method bodies. Multi-byte operands are
// big-endian.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(ops ...Opcode) *BytecodeBuilder {
	for _, op := range ops {
		b.bytes = append(b.bytes, byte(op))
	}
	return b
}

// EmitRaw appends raw bytes.
func (b *BytecodeBuilder) EmitRaw(data ...byte) *BytecodeBuilder {
	b.bytes = append(b.bytes, data...)
	return b
}

// EmitByte appends an opcode with an unsigned byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), operand)
	return b
}

// EmitInt8 appends an opcode with a signed byte operand (bipush).
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), byte(operand))
	return b
}

// EmitUint16 appends an opcode with a 16-bit operand, typically a constant
// pool index.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), byte(operand>>8), byte(operand))
	return b
}

// EmitInt16 appends an opcode with a signed 16-bit operand (sipush).
func (b *BytecodeBuilder) EmitInt16(op Opcode, operand int16) *BytecodeBuilder {
	return b.EmitUint16(op, uint16(operand))
}

// EmitLdc pushes a constant, choosing ldc or ldc_w by index width.
func (b *BytecodeBuilder) EmitLdc(index uint16) *BytecodeBuilder {
	if index <= 0xFF {
		return b.EmitByte(OpLdc, byte(index))
	}
	return b.EmitUint16(OpLdcW, index)
}

// EmitLocal appends a load, store or ret on a local slot, using wide for
// slots above 255.
func (b *BytecodeBuilder) EmitLocal(op Opcode, index int) *BytecodeBuilder {
	if index <= 0xFF {
		return b.EmitByte(op, byte(index))
	}
	b.bytes = append(b.bytes, byte(OpWide))
	return b.EmitUint16(op, uint16(index))
}

// EmitIinc appends iinc, using wide when either operand does not fit a byte.
func (b *BytecodeBuilder) EmitIinc(index int, delta int) *BytecodeBuilder {
	if index <= 0xFF && delta >= math.MinInt8 && delta <= math.MaxInt8 {
		b.bytes = append(b.bytes, byte(OpIinc), byte(index), byte(int8(delta)))
		return b
	}
	b.bytes = append(b.bytes, byte(OpWide), byte(OpIinc),
		byte(index>>8), byte(index), byte(delta>>8), byte(delta))
	return b
}

// EmitInvokeInterface appends invokeinterface with its argument slot count.
func (b *BytecodeBuilder) EmitInvokeInterface(index uint16, count uint8) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpInvokeinterface), byte(index>>8), byte(index), count, 0)
	return b
}

// EmitInvokeDynamic appends invokedynamic.
func (b *BytecodeBuilder) EmitInvokeDynamic(index uint16) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpInvokedynamic), byte(index>>8), byte(index), 0, 0)
	return b
}

// EmitMultiANewArray appends multianewarray.
func (b *BytecodeBuilder) EmitMultiANewArray(index uint16, dims uint8) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpMultianewarray), byte(index>>8), byte(index), dims)
	return b
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a branch target. JVM branch offsets are relative to the
// address of the branching opcode.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	opPos int // address of the branching opcode
	patch int // position of the offset operand
	wide  bool
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) *BytecodeBuilder {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		b.patch(ref, label.position)
	}
	label.refs = nil
	return b
}

func (b *BytecodeBuilder) patch(ref labelRef, target int) {
	offset := target - ref.opPos
	if ref.wide {
		binary.BigEndian.PutUint32(b.bytes[ref.patch:], uint32(int32(offset)))
		return
	}
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		panic(fmt.Sprintf("branch offset %d out of range", offset))
	}
	binary.BigEndian.PutUint16(b.bytes[ref.patch:], uint16(int16(offset)))
}

func (b *BytecodeBuilder) emitTarget(label *Label, opPos int, wide bool) {
	ref := labelRef{opPos: opPos, patch: len(b.bytes), wide: wide}
	if wide {
		b.bytes = append(b.bytes, 0, 0, 0, 0)
	} else {
		b.bytes = append(b.bytes, 0, 0)
	}
	if label.resolved {
		b.patch(ref, label.position)
	} else {
		label.refs = append(label.refs, ref)
	}
}

// EmitJump emits a branch instruction to a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) *BytecodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	b.emitTarget(label, opPos, op == OpGotoW || op == OpJsrW)
	return b
}

// EmitBranchOffset emits a branch with an explicit offset from its own
// address.
func (b *BytecodeBuilder) EmitBranchOffset(op Opcode, offset int) *BytecodeBuilder {
	if op == OpGotoW || op == OpJsrW {
		b.bytes = append(b.bytes, byte(op))
		b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(int32(offset)))
		return b
	}
	return b.EmitInt16(op, int16(offset))
}

func (b *BytecodeBuilder) align4() {
	for len(b.bytes)%4 != 0 {
		b.bytes = append(b.bytes, 0)
	}
}

// EmitTableSwitch emits tableswitch over keys low..low+len(targets)-1.
func (b *BytecodeBuilder) EmitTableSwitch(low int32, dflt *Label, targets ...*Label) *BytecodeBuilder {
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpTableswitch))
	b.align4()
	b.emitTarget(dflt, opPos, true)
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(low))
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(low+int32(len(targets))-1))
	for _, t := range targets {
		b.emitTarget(t, opPos, true)
	}
	return b
}

// EmitTableSwitchOffsets emits tableswitch with literal offsets.
func (b *BytecodeBuilder) EmitTableSwitchOffsets(low, high, dflt int32, offsets ...int32) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpTableswitch))
	b.align4()
	for _, v := range append([]int32{dflt, low, high}, offsets...) {
		b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(v))
	}
	return b
}

// EmitLookupSwitch emits lookupswitch; keys must be sorted ascending.
func (b *BytecodeBuilder) EmitLookupSwitch(dflt *Label, keys []int32, targets []*Label) *BytecodeBuilder {
	if len(keys) != len(targets) {
		panic("lookupswitch: keys and targets differ in length")
	}
	opPos := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpLookupswitch))
	b.align4()
	b.emitTarget(dflt, opPos, true)
	b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(len(keys)))
	for i, k := range keys {
		b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(k))
		b.emitTarget(targets[i], opPos, true)
	}
	return b
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// errCodeUnderflow is panicked by BytecodeReader when an operand runs past
// the end of the code array.
var errCodeUnderflow = &Error{Kind: ErrClassFormat, Msg: "bytecode underflow"}

// BytecodeReader reads bytecode for interpretation or disassembly. Reads
// past the end panic with a *Error of kind ErrClassFormat.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// Len returns the code length.
func (r *BytecodeReader) Len() int {
	return len(r.bytes)
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

func (r *BytecodeReader) need(n int) {
	if r.pos < 0 || r.pos+n > len(r.bytes) {
		panic(errCodeUnderflow)
	}
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single unsigned byte operand.
func (r *BytecodeReader) ReadByte() byte {
	r.need(1)
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadInt8 reads a signed 8-bit operand.
func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

// ReadUint16 reads a big-endian 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	r.need(2)
	v := binary.BigEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed big-endian 16-bit operand.
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadInt32 reads a signed big-endian 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	r.need(4)
	v := binary.BigEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// Align skips the 0-3 padding bytes that put the next operand at a
// multiple of four from the start of the code.
func (r *BytecodeReader) Align() {
	for r.pos%4 != 0 {
		r.ReadByte()
	}
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// SwitchTable is a decoded tableswitch or lookupswitch. Offsets are relative
// to the switch opcode.
type SwitchTable struct {
	Default int32
	Keys    []int32
	Offsets []int32
}

// Target returns the branch offset selected by key.
func (s *SwitchTable) Target(key int32) int32 {
	for i, k := range s.Keys {
		if k == key {
			return s.Offsets[i]
		}
	}
	return s.Default
}

// ReadTableSwitch decodes tableswitch operands; the opcode has been read.
func (r *BytecodeReader) ReadTableSwitch() *SwitchTable {
	r.Align()
	s := &SwitchTable{Default: r.ReadInt32()}
	low, high := r.ReadInt32(), r.ReadInt32()
	if high < low || int64(high)-int64(low) > int64(len(r.bytes)) {
		panic(&Error{Kind: ErrClassFormat, Msg: fmt.Sprintf("tableswitch bounds %d..%d", low, high)})
	}
	for k := int64(low); k <= int64(high); k++ {
		s.Keys = append(s.Keys, int32(k))
		s.Offsets = append(s.Offsets, r.ReadInt32())
	}
	return s
}

// ReadLookupSwitch decodes lookupswitch operands; the opcode has been read.
func (r *BytecodeReader) ReadLookupSwitch() *SwitchTable {
	r.Align()
	s := &SwitchTable{Default: r.ReadInt32()}
	n := r.ReadInt32()
	if n < 0 || int(n) > len(r.bytes) {
		panic(&Error{Kind: ErrClassFormat, Msg: fmt.Sprintf("lookupswitch pair count %d", n)})
	}
	for i := int32(0); i < n; i++ {
		s.Keys = append(s.Keys, r.ReadInt32())
		s.Offsets = append(s.Offsets, r.ReadInt32())
	}
	return s
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position in javap -c style and advances the reader. pool may be nil.
func DisassembleInstruction(r *BytecodeReader, pool classfile.ConstantPool) string {
	pos := r.Position()
	op := r.ReadOpcode()
	name := op.Name()

	line := func(operands, comment string) string {
		s := fmt.Sprintf("%4d: %-13s %s", pos, name, operands)
		if comment != "" {
			s = fmt.Sprintf("%-40s// %s", s, comment)
		}
		return strings.TrimRight(s, " ")
	}

	switch {
	case op == OpBipush:
		return line(fmt.Sprint(r.ReadInt8()), "")
	case op == OpSipush:
		return line(fmt.Sprint(r.ReadInt16()), "")
	case op == OpNewarray:
		code := r.ReadByte()
		return line(arrayTypeName(code), "")
	case op == OpLdc:
		idx := uint16(r.ReadByte())
		return line(fmt.Sprintf("#%d", idx), describeConstant(pool, idx))
	case op == OpIinc:
		idx, delta := r.ReadByte(), r.ReadInt8()
		return line(fmt.Sprintf("%d, %d", idx, delta), "")
	case op.IsBranch() && (op == OpGotoW || op == OpJsrW):
		return line(fmt.Sprint(pos+int(r.ReadInt32())), "")
	case op.IsBranch():
		return line(fmt.Sprint(pos+int(r.ReadInt16())), "")
	case op == OpTableswitch || op == OpLookupswitch:
		var s *SwitchTable
		var header string
		if op == OpTableswitch {
			s = r.ReadTableSwitch()
			header = fmt.Sprintf("{ // %d to %d", s.Keys[0], s.Keys[len(s.Keys)-1])
		} else {
			s = r.ReadLookupSwitch()
			header = fmt.Sprintf("{ // %d", len(s.Keys))
		}
		var b strings.Builder
		b.WriteString(line(header, ""))
		for i, k := range s.Keys {
			fmt.Fprintf(&b, "\n%24d: %d", k, pos+int(s.Offsets[i]))
		}
		fmt.Fprintf(&b, "\n%24s: %d\n      }", "default", pos+int(s.Default))
		return b.String()
	case op == OpWide:
		inner := r.ReadOpcode()
		idx := r.ReadUint16()
		if inner == OpIinc {
			return fmt.Sprintf("%4d: wide %s %d, %d", pos, inner.Name(), idx, r.ReadInt16())
		}
		return fmt.Sprintf("%4d: wide %s %d", pos, inner.Name(), idx)
	case op == OpInvokeinterface:
		idx, count := r.ReadUint16(), r.ReadByte()
		r.ReadByte()
		return line(fmt.Sprintf("#%d,  %d", idx, count), describeConstant(pool, idx))
	case op == OpInvokedynamic:
		idx := r.ReadUint16()
		r.Skip(2)
		return line(fmt.Sprintf("#%d,  0", idx), describeConstant(pool, idx))
	case op == OpMultianewarray:
		idx, dims := r.ReadUint16(), r.ReadByte()
		return line(fmt.Sprintf("#%d,  %d", idx, dims), describeConstant(pool, idx))
	case op.OperandBytes() == 2:
		idx := r.ReadUint16()
		return line(fmt.Sprintf("#%d", idx), describeConstant(pool, idx))
	case op.OperandBytes() == 1:
		return line(fmt.Sprint(r.ReadByte()), "")
	default:
		return strings.TrimRight(fmt.Sprintf("%4d: %s", pos, name), " ")
	}
}

// Disassemble returns a full listing of a code array.
func Disassemble(code []byte, pool classfile.ConstantPool) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e, ok := rec.(*Error)
			if !ok {
				panic(rec)
			}
			err = e
		}
	}()

	r := NewBytecodeReader(code)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r, pool))
	}
	return strings.Join(lines, "\n"), nil
}

func arrayTypeName(code byte) string {
	names := map[byte]string{
		atBoolean: "boolean", atChar: "char", atFloat: "float", atDouble: "double",
		atByte: "byte", atShort: "short", atInt: "int", atLong: "long",
	}
	if n, ok := names[code]; ok {
		return n
	}
	return fmt.Sprintf("type%d", code)
}

// describeConstant renders a pool entry the way javap annotates operands.
func describeConstant(pool classfile.ConstantPool, idx uint16) string {
	if pool == nil || int(idx) <= 0 || int(idx) >= len(pool) {
		return ""
	}
	c := pool[idx]
	member := func(kind string) string {
		owner, _ := pool.ClassName(c.ClassIndex)
		name, desc := natStrings(pool, c.NameAndTypeIndex)
		return fmt.Sprintf("%s %s.%s:%s", kind, owner, name, desc)
	}
	switch c.Tag {
	case classfile.TagClass:
		name, _ := pool.Utf8(c.NameIndex)
		return "class " + name
	case classfile.TagString:
		s, _ := pool.Utf8(c.StringIndex)
		return "String " + s
	case classfile.TagInteger:
		return fmt.Sprintf("int %d", int32(c.High))
	case classfile.TagFloat:
		return fmt.Sprintf("float %gf", math.Float32frombits(c.High))
	case classfile.TagLong:
		return fmt.Sprintf("long %dl", int64(uint64(c.High)<<32|uint64(c.Low)))
	case classfile.TagDouble:
		return fmt.Sprintf("double %gd", math.Float64frombits(uint64(c.High)<<32|uint64(c.Low)))
	case classfile.TagFieldref:
		return member("Field")
	case classfile.TagMethodref:
		return member("Method")
	case classfile.TagInterfaceMethodref:
		return member("InterfaceMethod")
	case classfile.TagInvokeDynamic:
		name, desc := natStrings(pool, c.NameAndTypeIndex)
		return fmt.Sprintf("InvokeDynamic #%d:%s:%s", c.BootstrapIndex, name, desc)
	}
	return ""
}

func natStrings(pool classfile.ConstantPool, idx uint16) (string, string) {
	if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].Tag != classfile.TagNameAndType {
		return "", ""
	}
	name, _ := pool.Utf8(pool[idx].NameIndex)
	desc, _ := pool.Utf8(pool[idx].DescriptorIndex)
	return name, desc
}

// DisassembleClass renders a class in the style of javap -c.
func DisassembleClass(cf *classfile.ClassFile) (string, error) {
	name, err := cf.ClassName()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if cf.SourceFile != "" {
		fmt.Fprintf(&b, "Compiled from %q\n", cf.SourceFile)
	}
	kind := "class"
	if cf.AccessFlags&classfile.AccInterface != 0 {
		kind = "interface"
	}
	fmt.Fprintf(&b, "%s %s", kind, strings.ReplaceAll(name, "/", "."))
	if super, ok := cf.ConstantPool.ClassName(cf.SuperClass); ok && super != "java/lang/Object" {
		fmt.Fprintf(&b, " extends %s", strings.ReplaceAll(super, "/", "."))
	}
	b.WriteString(" {\n")
	for _, f := range cf.Fields {
		fname, _ := cf.ConstantPool.Utf8(f.NameIndex)
		desc, _ := cf.ConstantPool.Utf8(f.DescriptorIndex)
		fmt.Fprintf(&b, "  %s %s;\n", desc, fname)
	}
	for i, m := range cf.Methods {
		if i > 0 || len(cf.Fields) > 0 {
			b.WriteString("\n")
		}
		mname, _ := cf.ConstantPool.Utf8(m.NameIndex)
		desc, _ := cf.ConstantPool.Utf8(m.DescriptorIndex)
		fmt.Fprintf(&b, "  %s%s;\n", mname, desc)
		if m.Code == nil {
			continue
		}
		listing, err := Disassemble(m.Code.Code, cf.ConstantPool)
		if err != nil {
			return "", fmt.Errorf("%s.%s%s: %w", name, mname, desc, err)
		}
		b.WriteString("    Code:\n")
		for _, l := range strings.Split(listing, "\n") {
			b.WriteString("    ")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	b.WriteString("}\n")
	return b.String(), nil
}
