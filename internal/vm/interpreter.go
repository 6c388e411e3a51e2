package vm

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/types"
)

// StepResult tells RunQuantum's caller what happened to the thread it
// just ran.
type StepResult int

const (
	StepContinue StepResult = iota // quantum budget exhausted, thread still runnable
	StepBlocked                    // thread moved off Runnable (monitor/wait/sleep/dbg suspend)
	StepDied                       // thread's bottom frame returned or it was killed
)

// BreakpointTable lets the debugger mark a (method, pc) as a breakpoint
// without rewriting the method's bytecode (spec §4.9 "Breakpoint opcode
// substitution"). The interpreter consults this table once per fetch,
// reports a hit, and executes the opcode OriginalOpcode returns.
type BreakpointTable interface {
	OriginalOpcode(m *types.Method, pc int) (byte, bool)
	OnBreakpointHit(t *Thread, m *types.Method, pc int)
}

// SuspensionHook lets the debugger observe single-step boundaries (spec
// §4.9 INTO/OVER/OUT semantics): called after every instruction with the
// frame depth and line before/after, so the event engine can detect a
// line or frame-depth change and park the thread.
type SuspensionHook interface {
	AfterInstruction(t *Thread, prevDepth, newDepth int, prevLine, newLine int)
}

// Interpreter drives one VM's bytecode execution (spec §4.4). It holds no
// per-thread state of its own; every Thread carries its own Stack, so the
// same Interpreter services every green thread the scheduler runs.
type Interpreter struct {
	VM *VM

	Breakpoints BreakpointTable // nil unless a debugger session is attached
	Steps       SuspensionHook  // nil unless a debugger session is attached
}

func NewInterpreter(v *VM) *Interpreter {
	return &Interpreter{VM: v}
}

// RunQuantum executes t for up to maxInstructions bytecode steps, or until
// it blocks, dies, or a pending exception propagates past its bottom
// frame. This is the scheduler's unit of cooperative execution (spec
// §4.5): control always returns to the caller within a bounded number of
// instructions, never running one thread forever.
func (in *Interpreter) RunQuantum(t *Thread, maxInstructions int) StepResult {
	in.VM.CurrentThread = t
	for i := 0; i < maxInstructions; i++ {
		if !t.IsRunnable() {
			return StepBlocked
		}
		if t.PendingException != 0 {
			switch in.VM.UnwindOne(t) {
			case UnwindThreadDied:
				in.VM.Sched.Kill(t)
				return StepDied
			case UnwindPopFrame:
				continue
			case UnwindHandled:
				continue
			}
		}

		f := t.Stack.Top()
		if f == nil {
			in.VM.Sched.Kill(t)
			return StepDied
		}

		prevDepth, prevLine := t.Stack.Depth(), f.LineNumber
		died := in.step(t, f)
		if died {
			return StepDied
		}
		if !t.IsRunnable() {
			return StepBlocked
		}
		if in.Steps != nil {
			newFrame := t.Stack.Top()
			newDepth := t.Stack.Depth()
			newLine := 0
			if newFrame != nil {
				newLine = newFrame.LineNumber
			}
			in.Steps.AfterInstruction(t, prevDepth, newDepth, prevLine, newLine)
		}
	}
	return StepContinue
}

// step executes the single instruction at f.PC. It returns true if
// executing the instruction caused the thread to die (its bottom frame
// returned with nothing left to unwind into).
func (in *Interpreter) step(t *Thread, f *Frame) bool {
	v := in.VM
	code := f.Method.Code
	if code == nil || f.PC >= len(code.Bytecode) {
		in.throwFrom(t, v.NewNullPointerException())
		return false
	}

	op := code.Bytecode[f.PC]
	if in.Breakpoints != nil {
		if orig, ok := in.Breakpoints.OriginalOpcode(f.Method, f.PC); ok {
			in.Breakpoints.OnBreakpointHit(t, f.Method, f.PC)
			op = orig
		}
	}
	f.LineNumber = lineForPC(f.Method, f.PC)

	switch op {
	case opNop:
		f.PC++
	case opAconstNull:
		f.Push(CellFromPtr(0))
		f.PC++
	case opIconstM1, opIconst0, opIconst1, opIconst2, opIconst3, opIconst4, opIconst5:
		f.Push(CellFromInt32(int32(op) - opIconst0))
		f.PC++
	case opLconst0, opLconst1:
		pushLong(f, int64(op)-opLconst0)
		f.PC++
	case opFconst0, opFconst1, opFconst2:
		f.Push(CellFromFloat32(float32(op) - opFconst0))
		f.PC++
	case opDconst0, opDconst1:
		pushDouble(f, float64(op)-opDconst0)
		f.PC++
	case opBipush:
		v8 := int8(code.Bytecode[f.PC+1])
		f.Push(CellFromInt32(int32(v8)))
		f.PC += 2
	case opSipush:
		v16 := int16(binary.BigEndian.Uint16(code.Bytecode[f.PC+1:]))
		f.Push(CellFromInt32(int32(v16)))
		f.PC += 3
	case opLdc:
		idx := int(code.Bytecode[f.PC+1])
		in.pushConstant(t, f, idx)
		f.PC += 2
	case opLdcW, opLdc2W:
		idx := int(binary.BigEndian.Uint16(code.Bytecode[f.PC+1:]))
		in.pushConstant(t, f, idx)
		f.PC += 3

	case opIload, opFload, opAload, opLload, opDload:
		i := int(code.Bytecode[f.PC+1])
		f.Push(f.GetLocal(i))
		f.PC += 2
	case opIload0, opIload1, opIload2, opIload3:
		f.Push(f.GetLocal(int(op - opIload0)))
		f.PC++
	case opLload0, opLload1, opLload2, opLload3:
		f.Push(f.GetLocal(int(op - opLload0)))
		f.PC++
	case opFload0, opFload1, opFload2, opFload3:
		f.Push(f.GetLocal(int(op - opFload0)))
		f.PC++
	case opDload0, opDload1, opDload2, opDload3:
		f.Push(f.GetLocal(int(op - opDload0)))
		f.PC++
	case opAload0, opAload1, opAload2, opAload3:
		f.Push(f.GetLocal(int(op - opAload0)))
		f.PC++

	case opIaload, opFaload, opAaload, opBaload, opCaload, opSaload:
		in.arrayLoad(t, f, op)
	case opLaload, opDaload:
		in.arrayLoadWide(t, f)

	case opIstore, opFstore, opAstore, opLstore, opDstore:
		i := int(code.Bytecode[f.PC+1])
		f.SetLocal(i, f.Pop())
		f.PC += 2
	case opIstore0, opIstore1, opIstore2, opIstore3:
		f.SetLocal(int(op-opIstore0), f.Pop())
		f.PC++
	case opLstore0, opLstore1, opLstore2, opLstore3:
		f.SetLocal(int(op-opLstore0), f.Pop())
		f.PC++
	case opFstore0, opFstore1, opFstore2, opFstore3:
		f.SetLocal(int(op-opFstore0), f.Pop())
		f.PC++
	case opDstore0, opDstore1, opDstore2, opDstore3:
		f.SetLocal(int(op-opDstore0), f.Pop())
		f.PC++
	case opAstore0, opAstore1, opAstore2, opAstore3:
		f.SetLocal(int(op-opAstore0), f.Pop())
		f.PC++

	case opIastore, opFastore, opAastore, opBastore, opCastore, opSastore:
		in.arrayStore(t, f, op)
	case opLastore, opDastore:
		in.arrayStoreWide(t, f)

	case opPop:
		f.Pop()
		f.PC++
	case opPop2:
		f.Pop()
		f.Pop()
		f.PC++
	case opDup:
		c := f.Peek(0)
		f.Push(c)
		f.PC++
	case opDupX1:
		a, b := f.Pop(), f.Pop()
		f.Push(a)
		f.Push(b)
		f.Push(a)
		f.PC++
	case opDupX2:
		a, b, c := f.Pop(), f.Pop(), f.Pop()
		f.Push(a)
		f.Push(c)
		f.Push(b)
		f.Push(a)
		f.PC++
	case opDup2:
		a, b := f.Pop(), f.Pop()
		f.Push(b)
		f.Push(a)
		f.Push(b)
		f.Push(a)
		f.PC++
	case opSwap:
		a, b := f.Pop(), f.Pop()
		f.Push(a)
		f.Push(b)
		f.PC++

	case opIadd:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a + b))
		f.PC++
	case opIsub:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a - b))
		f.PC++
	case opImul:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a * b))
		f.PC++
	case opIdiv:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		if b == 0 {
			in.throwFrom(t, v.NewArithmeticException("/ by zero"))
			return false
		}
		f.Push(CellFromInt32(a / b))
		f.PC++
	case opIrem:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		if b == 0 {
			in.throwFrom(t, v.NewArithmeticException("/ by zero"))
			return false
		}
		f.Push(CellFromInt32(a % b))
		f.PC++
	case opIneg:
		f.Push(CellFromInt32(-f.Pop().Int32()))
		f.PC++
	case opIshl:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a << (uint32(b) & 0x1f)))
		f.PC++
	case opIshr:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a >> (uint32(b) & 0x1f)))
		f.PC++
	case opIushr:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(int32(uint32(a) >> (uint32(b) & 0x1f))))
		f.PC++
	case opIand:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a & b))
		f.PC++
	case opIor:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a | b))
		f.PC++
	case opIxor:
		b, a := f.Pop().Int32(), f.Pop().Int32()
		f.Push(CellFromInt32(a ^ b))
		f.PC++
	case opIinc:
		i := int(code.Bytecode[f.PC+1])
		delta := int8(code.Bytecode[f.PC+2])
		f.SetLocal(i, CellFromInt32(f.GetLocal(i).Int32()+int32(delta)))
		f.PC += 3

	case opLadd:
		b, a := popLong(f), popLong(f)
		pushLong(f, a+b)
		f.PC++
	case opLsub:
		b, a := popLong(f), popLong(f)
		pushLong(f, a-b)
		f.PC++
	case opLmul:
		b, a := popLong(f), popLong(f)
		pushLong(f, a*b)
		f.PC++
	case opLdiv:
		b, a := popLong(f), popLong(f)
		if b == 0 {
			in.throwFrom(t, v.NewArithmeticException("/ by zero"))
			return false
		}
		pushLong(f, a/b)
		f.PC++
	case opLrem:
		b, a := popLong(f), popLong(f)
		if b == 0 {
			in.throwFrom(t, v.NewArithmeticException("/ by zero"))
			return false
		}
		pushLong(f, a%b)
		f.PC++
	case opLneg:
		pushLong(f, -popLong(f))
		f.PC++
	case opLcmp:
		b, a := popLong(f), popLong(f)
		f.Push(CellFromInt32(cmp64(a, b)))
		f.PC++

	case opFadd:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromFloat32(a + b))
		f.PC++
	case opFsub:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromFloat32(a - b))
		f.PC++
	case opFmul:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromFloat32(a * b))
		f.PC++
	case opFdiv:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromFloat32(a / b))
		f.PC++
	case opFrem:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromFloat32(float32(int(a) % int(b))))
		f.PC++
	case opFneg:
		f.Push(CellFromFloat32(-f.Pop().Float32()))
		f.PC++
	case opFcmpl, opFcmpg:
		b, a := f.Pop().Float32(), f.Pop().Float32()
		f.Push(CellFromInt32(cmpFloat(float64(a), float64(b), op == opFcmpg)))
		f.PC++

	case opDadd:
		b, a := popDouble(f), popDouble(f)
		pushDouble(f, a+b)
		f.PC++
	case opDsub:
		b, a := popDouble(f), popDouble(f)
		pushDouble(f, a-b)
		f.PC++
	case opDmul:
		b, a := popDouble(f), popDouble(f)
		pushDouble(f, a*b)
		f.PC++
	case opDdiv:
		b, a := popDouble(f), popDouble(f)
		pushDouble(f, a/b)
		f.PC++
	case opDrem:
		b, a := popDouble(f), popDouble(f)
		pushDouble(f, float64(int64(a)%int64(b)))
		f.PC++
	case opDneg:
		pushDouble(f, -popDouble(f))
		f.PC++
	case opDcmpl, opDcmpg:
		b, a := popDouble(f), popDouble(f)
		f.Push(CellFromInt32(cmpFloat(a, b, op == opDcmpg)))
		f.PC++

	case opI2l:
		pushLong(f, int64(f.Pop().Int32()))
		f.PC++
	case opI2f:
		f.Push(CellFromFloat32(float32(f.Pop().Int32())))
		f.PC++
	case opI2d:
		pushDouble(f, float64(f.Pop().Int32()))
		f.PC++
	case opL2i:
		f.Push(CellFromInt32(int32(popLong(f))))
		f.PC++
	case opF2i:
		f.Push(CellFromInt32(int32(f.Pop().Float32())))
		f.PC++
	case opD2i:
		f.Push(CellFromInt32(int32(popDouble(f))))
		f.PC++
	case opI2b:
		f.Push(CellFromInt32(int32(int8(f.Pop().Int32()))))
		f.PC++
	case opI2c:
		f.Push(CellFromInt32(int32(uint16(f.Pop().Int32()))))
		f.PC++
	case opI2s:
		f.Push(CellFromInt32(int32(int16(f.Pop().Int32()))))
		f.PC++

	case opIfeq, opIfne, opIflt, opIfge, opIfgt, opIfle:
		in.branchUnary(f, op)
	case opIfIcmpeq, opIfIcmpne, opIfIcmplt, opIfIcmpge, opIfIcmpgt, opIfIcmple:
		in.branchIntCompare(f, op)
	case opIfAcmpeq, opIfAcmpne:
		in.branchRefCompare(f, op)
	case opIfnull, opIfnonnull:
		in.branchNullCompare(f, op)
	case opGoto:
		off := int16(binary.BigEndian.Uint16(code.Bytecode[f.PC+1:]))
		f.PC += int(off)

	case opIreturn, opFreturn, opLreturn, opDreturn, opAreturn:
		return in.doReturn(t, f, 1)
	case opReturn:
		return in.doReturn(t, f, 0)

	case opGetstatic:
		in.getstatic(t, f)
	case opPutstatic:
		in.putstatic(t, f)
	case opGetfield:
		in.getfield(t, f)
	case opPutfield:
		in.putfield(t, f)

	case opInvokestatic:
		in.invoke(t, f, invokeStatic)
	case opInvokespecial:
		in.invoke(t, f, invokeSpecial)
	case opInvokevirtual:
		in.invoke(t, f, invokeVirtual)
	case opInvokeinterface:
		in.invoke(t, f, invokeVirtual) // interface dispatch resolves identically once the receiver is known
		f.PC += 2                      // invokeinterface carries two extra operand bytes (count, 0)

	case opNew:
		in.newInstance(t, f)
	case opNewarray:
		in.newPrimitiveArray(t, f)
	case opAnewarray:
		in.newRefArray(t, f)
	case opArraylength:
		in.arraylength(t, f)

	case opAthrow:
		exc := f.Pop().Ptr()
		if exc == 0 {
			exc = v.NewNullPointerException()
		}
		t.PendingException = exc
		f.PC++ // unwind picks up from here on the next loop iteration

	case opCheckcast:
		in.checkcast(t, f)
	case opInstanceof:
		in.instanceofOp(f)

	case opMonitorenter:
		obj := f.Pop().Ptr()
		if obj == 0 {
			in.throwFrom(t, v.NewNullPointerException())
			return false
		}
		v.Sched.MonitorEnter(t, obj)
		f.PC++
	case opMonitorexit:
		obj := f.Pop().Ptr()
		if err := v.Sched.MonitorExit(t, obj); err != nil {
			in.throwFrom(t, v.newSyntheticThrowable("java/lang/IllegalMonitorStateException"))
			return false
		}
		f.PC++

	default:
		in.throwFrom(t, v.newSyntheticThrowable("java/lang/InternalError"))
	}
	return false
}

// throwFrom records exc as pending without advancing PC; the main loop's
// next iteration unwinds it.
func (in *Interpreter) throwFrom(t *Thread, exc heap.Ptr) {
	t.PendingException = exc
}

func pushLong(f *Frame, v int64)  { f.Push(CellFromInt64(v)) }
func popLong(f *Frame) int64      { return f.Pop().Int64() }
func pushDouble(f *Frame, v float64) { f.Push(CellFromFloat64(v)) }
func popDouble(f *Frame) float64  { return f.Pop().Float64() }

func cmp64(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// cmpFloat implements the fcmpl/fcmpg and dcmpl/dcmpg NaN-handling
// distinction: NaN compares as 1 for the *g variants and -1 for the *l
// variants (JVMS 6.5 fcmp<op>).
func cmpFloat(a, b float64, nanIsOne bool) int32 {
	if a != a || b != b { // either is NaN
		if nanIsOne {
			return 1
		}
		return -1
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func (in *Interpreter) branchUnary(f *Frame, op byte) {
	v := f.Pop().Int32()
	var take bool
	switch op {
	case opIfeq:
		take = v == 0
	case opIfne:
		take = v != 0
	case opIflt:
		take = v < 0
	case opIfge:
		take = v >= 0
	case opIfgt:
		take = v > 0
	case opIfle:
		take = v <= 0
	}
	in.takeBranch(f, take)
}

func (in *Interpreter) branchIntCompare(f *Frame, op byte) {
	b, a := f.Pop().Int32(), f.Pop().Int32()
	var take bool
	switch op {
	case opIfIcmpeq:
		take = a == b
	case opIfIcmpne:
		take = a != b
	case opIfIcmplt:
		take = a < b
	case opIfIcmpge:
		take = a >= b
	case opIfIcmpgt:
		take = a > b
	case opIfIcmple:
		take = a <= b
	}
	in.takeBranch(f, take)
}

func (in *Interpreter) branchRefCompare(f *Frame, op byte) {
	b, a := f.Pop().Ptr(), f.Pop().Ptr()
	take := a == b
	if op == opIfAcmpne {
		take = a != b
	}
	in.takeBranch(f, take)
}

func (in *Interpreter) branchNullCompare(f *Frame, op byte) {
	a := f.Pop().Ptr()
	take := a == 0
	if op == opIfnonnull {
		take = a != 0
	}
	in.takeBranch(f, take)
}

func (in *Interpreter) takeBranch(f *Frame, take bool) {
	if !take {
		f.PC += 3
		return
	}
	off := int16(binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:]))
	f.PC += int(off)
}

// pushConstant implements ldc/ldc_w/ldc2_w: push an Integer/Float/Long/
// Double constant directly, or materialize (and intern) a String
// constant's heap object on first use.
func (in *Interpreter) pushConstant(t *Thread, f *Frame, idx int) {
	cp := f.Method.Owner.ConstantPool
	if idx >= len(cp) {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	e := cp[idx]
	switch e.Tag {
	case classfile.ConstInteger:
		f.Push(CellFromInt32(e.Int32))
	case classfile.ConstFloat:
		f.Push(CellFromFloat32(e.Float32))
	case classfile.ConstLong:
		pushLong(f, e.Int64)
	case classfile.ConstDouble:
		pushDouble(f, e.Float64)
	case classfile.ConstString:
		str, _ := cp.Utf8(e.NameIndex)
		f.Push(CellFromPtr(in.VM.internedString(str)))
	case classfile.ConstClass:
		name, _ := cp.ClassName(uint16(idx))
		c, err := in.VM.Classes.FindOrLoadClass(0, name)
		if err != nil {
			in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
			return
		}
		f.Push(CellFromPtr(c.ClassObj))
	}
}

// resolveFieldRef reads a Fieldref constant-pool entry into its class
// name, field name, and descriptor.
func resolveFieldRef(cp classfile.ConstantPool, idx uint16) (className, name, descriptor string, err error) {
	e := cp[idx]
	className, err = cp.ClassName(e.ClassIndex)
	if err != nil {
		return
	}
	nt := cp[e.NameAndTypeIndex]
	name, err = cp.Utf8(nt.NameIndex)
	if err != nil {
		return
	}
	descriptor, err = cp.Utf8(nt.DescriptorIndex)
	return
}

func (in *Interpreter) getstatic(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	cp := f.Method.Owner.ConstantPool
	className, name, desc, err := resolveFieldRef(cp, idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	c, field, ok := in.resolveStaticField(t, className, name, desc)
	if !ok {
		return
	}
	payload := in.VM.Heap.Payload(c.StaticStorage)
	f.Push(Cell(binary.LittleEndian.Uint64(payload[field.Offset*8:])))
}

func (in *Interpreter) putstatic(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	cp := f.Method.Owner.ConstantPool
	className, name, desc, err := resolveFieldRef(cp, idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	c, field, ok := in.resolveStaticField(t, className, name, desc)
	if !ok {
		return
	}
	val := f.Pop()
	payload := in.VM.Heap.Payload(c.StaticStorage)
	binary.LittleEndian.PutUint64(payload[field.Offset*8:], uint64(val))
}

func (in *Interpreter) resolveStaticField(t *Thread, className, name, desc string) (*types.Clazz, *types.Field, bool) {
	c, err := in.VM.Classes.FindOrLoadClass(0, className)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return nil, nil, false
	}
	if !in.ensureInitialized(t, c) {
		return nil, nil, false
	}
	field, err := types.FieldLookup(c, name, desc)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return nil, nil, false
	}
	return c, field, true
}

func (in *Interpreter) getfield(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	obj := f.Pop().Ptr()
	if obj == 0 {
		in.throwFrom(t, in.VM.NewNullPointerException())
		return
	}
	cp := f.Method.Owner.ConstantPool
	className, name, desc, err := resolveFieldRef(cp, idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	c, err := in.VM.Classes.FindOrLoadClass(0, className)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	field, err := types.FieldLookup(c, name, desc)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	payload := in.VM.Heap.Payload(obj)
	off := 4 + field.Offset*8
	f.Push(Cell(binary.LittleEndian.Uint64(payload[off:])))
}

func (in *Interpreter) putfield(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	val := f.Pop()
	obj := f.Pop().Ptr()
	if obj == 0 {
		in.throwFrom(t, in.VM.NewNullPointerException())
		return
	}
	cp := f.Method.Owner.ConstantPool
	className, name, desc, err := resolveFieldRef(cp, idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	c, err := in.VM.Classes.FindOrLoadClass(0, className)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	field, err := types.FieldLookup(c, name, desc)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchFieldError"))
		return
	}
	payload := in.VM.Heap.Payload(obj)
	off := 4 + field.Offset*8
	binary.LittleEndian.PutUint64(payload[off:], uint64(val))
}

type invokeKind int

const (
	invokeStatic invokeKind = iota
	invokeSpecial
	invokeVirtual
)

// invoke implements invokestatic/invokespecial/invokevirtual/
// invokeinterface (spec §4.4 "Method invocation"): resolve the target,
// pop its arguments off the caller's operand stack, and either push a new
// frame for a bytecode method or call straight into the native registry.
func (in *Interpreter) invoke(t *Thread, f *Frame, kind invokeKind) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	cp := f.Method.Owner.ConstantPool
	e := cp[idx]
	className, err := cp.ClassName(e.ClassIndex)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchMethodError"))
		return
	}
	nt := cp[e.NameAndTypeIndex]
	name, _ := cp.Utf8(nt.NameIndex)
	desc, _ := cp.Utf8(nt.DescriptorIndex)

	declClazz, err := in.VM.Classes.FindOrLoadClass(0, className)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}

	args, _, _ := types.MethodArgTypes(desc)
	isStatic := kind == invokeStatic

	// valueCells counts one operand-stack cell per pushed value (a long or
	// double argument was pushed as a single Cell, not two — see
	// pushLong/pushDouble). placeLocals below expands this flat list back
	// into the JVM-compatible local-slot layout (spec §3 "Cell":
	// longs/doubles reserve two consecutive slots) the callee's own
	// bytecode indexes into.
	valueCells := len(args)
	if !isStatic {
		valueCells++
	}

	var method *types.Method
	var receiver heap.Ptr

	if isStatic {
		method, err = types.MethodLookup(declClazz, name, desc)
	} else {
		receiver = f.Peek(valueCells - 1).Ptr()
		if receiver == 0 {
			popN(f, valueCells)
			in.throwFrom(t, in.VM.NewNullPointerException())
			return
		}
		if kind == invokeSpecial {
			method, err = types.MethodLookup(declClazz, name, desc)
		} else {
			runtimeClazz := in.VM.classOfObject(receiver)
			if runtimeClazz == nil {
				runtimeClazz = declClazz
			}
			method, err = types.MethodLookup(runtimeClazz, name, desc)
		}
	}
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoSuchMethodError"))
		return
	}

	if isStatic && !in.ensureInitialized(t, method.Owner) {
		return
	}

	values := popN(f, valueCells)
	callArgs := placeLocals(args, !isStatic, values)
	in.dispatch(t, method, callArgs, f)
}

// placeLocals expands a flat, one-cell-per-value argument list into the
// callee's local-slot layout: a receiver (if hasReceiver) occupies slot 0,
// then each declared argument occupies one slot, with a padding slot
// appended after any long/double argument so later iload/lload/etc
// instructions referencing a javac-numbered local index land correctly.
func placeLocals(args []types.JType, hasReceiver bool, values []Cell) []Cell {
	out := make([]Cell, 0, len(values)+len(args))
	vi := 0
	if hasReceiver {
		out = append(out, values[vi])
		vi++
	}
	for _, a := range args {
		out = append(out, values[vi])
		vi++
		if a.Width() == 2 {
			out = append(out, 0)
		}
	}
	return out
}

func popN(f *Frame, n int) []Cell {
	out := make([]Cell, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.Pop()
	}
	return out
}

// dispatch invokes method with callArgs (this, if any, is callArgs[0]):
// native methods run synchronously against the VM's native registry;
// bytecode methods get a new frame pushed for the scheduler to run on its
// next quantum. The caller's frame is not consulted.
func (in *Interpreter) dispatch(t *Thread, method *types.Method, callArgs []Cell, caller *Frame) {
	if method.IsNative() {
		fn, ok := in.VM.Natives.Lookup(method.Owner.Name.String(), method.Name.String(), method.Descriptor.String())
		if !ok {
			in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/UnsatisfiedLinkError"))
			return
		}
		mark := in.VM.Transient.Mark()
		fn(in.VM, t, callArgs)
		in.VM.Transient.PopTo(mark)
		return
	}
	if method.Code == nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/AbstractMethodError"))
		return
	}

	nf := t.Stack.PushFrame(method, int(method.Code.MaxLocals), int(method.Code.MaxStack))
	for i, c := range callArgs {
		nf.SetLocal(i, c)
	}
	if method.IsSynchronized() {
		obj := method.Owner.ClassObj
		if !method.IsStatic() {
			obj = callArgs[0].Ptr()
		}
		nf.SyncObj = obj
		in.VM.Sched.MonitorEnter(t, obj)
	}
}

// doReturn pops the current frame, propagating up to nCells result cells
// to the caller's operand stack (nCells is 0, 1, or 2). Returns true if
// this was the thread's bottom frame (the thread has finished).
func (in *Interpreter) doReturn(t *Thread, f *Frame, nCells int) bool {
	var results []Cell
	for i := 0; i < nCells; i++ {
		results = append([]Cell{f.Pop()}, results...)
	}
	if f.SyncObj != 0 {
		_ = in.VM.Sched.MonitorExit(t, f.SyncObj)
	}
	t.Stack.PopFrame()
	caller := t.Stack.Top()
	if caller == nil {
		in.VM.Sched.Kill(t)
		return true
	}
	for _, c := range results {
		caller.Push(c)
	}
	return false
}

// ensureInitialized triggers <clinit> if c hasn't run it yet (spec §4.3
// "classes are initialized ... on first active use"). Running a
// superclass's or a class's own <clinit> to completion is treated as an
// uninterruptible, synchronous sub-call of the interpreter rather than a
// cooperative scheduling point — class initializers are short and this
// core does not model re-entering the scheduler mid-<clinit>.
func (in *Interpreter) ensureInitialized(t *Thread, c *types.Clazz) bool {
	err := types.Initialize(c, t.ID, func(cc *types.Clazz) error {
		m := cc.FindMethod("<clinit>", "()V")
		if m == nil {
			return nil
		}
		return in.runToCompletion(t, m, nil)
	})
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/ExceptionInInitializerError"))
		return false
	}
	return true
}

// runToCompletion drives method on t's stack until it returns, bypassing
// RunQuantum's scheduler-visible budget. Used only for <clinit>, which
// spec §4.3 requires to run to completion (or failure) before the
// triggering bytecode resumes.
func (in *Interpreter) runToCompletion(t *Thread, m *types.Method, args []Cell) error {
	depthBefore := t.Stack.Depth()
	in.dispatch(t, m, args, t.Stack.Top())
	for t.Stack.Depth() > depthBefore {
		if t.PendingException != 0 {
			exc := t.PendingException
			for t.Stack.Depth() > depthBefore {
				t.Stack.PopFrame()
			}
			t.PendingException = 0
			return fmt.Errorf("clinit failed: exception object %v", exc)
		}
		f := t.Stack.Top()
		if in.step(t, f) {
			return nil
		}
	}
	return nil
}

// internedString returns the String instance for s, materializing and
// interning it on first use (spec §3 "String intern pool" is a GC root;
// spec §4.6 native ABI owns actual String object layout, represented here
// minimally as an AllocString chunk holding the UTF-8 bytes since no
// native currently decodes it char-by-char).
func (v *VM) internedString(s string) heap.Ptr {
	if p, ok := v.Intern.Lookup([]byte(s)); ok {
		return p
	}
	return v.Intern.Intern([]byte(s), func() heap.Ptr {
		p, err := v.Heap.Calloc(len(s), heap.AllocString)
		if err != nil {
			return 0
		}
		copy(v.Heap.Payload(p), s)
		return p
	})
}

func (in *Interpreter) newInstance(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	name, err := f.Method.Owner.ConstantPool.ClassName(idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	c, err := in.VM.Classes.FindOrLoadClass(0, name)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	if !in.ensureInitialized(t, c) {
		return
	}
	obj, err := in.VM.AllocObject(c)
	if err != nil {
		in.throwFrom(t, in.VM.NewOutOfMemoryError())
		return
	}
	f.Push(CellFromPtr(obj))
}

// primArrayWidth/primArrayKind map the newarray atype operand (JVMS 6.5
// newarray table 6.5-A) to element byte width and descriptor letter.
func primArrayWidth(atype byte) int {
	switch atype {
	case 4, 8: // boolean, byte
		return 1
	case 5, 9: // char, short
		return 2
	case 6, 10: // float, int
		return 4
	case 7, 11: // double, long
		return 8
	}
	return 8
}

func primArrayDescriptor(atype byte) string {
	switch atype {
	case 4:
		return "[Z"
	case 5:
		return "[C"
	case 6:
		return "[F"
	case 7:
		return "[D"
	case 8:
		return "[B"
	case 9:
		return "[S"
	case 10:
		return "[I"
	case 11:
		return "[J"
	}
	return "[I"
}

func (in *Interpreter) newPrimitiveArray(t *Thread, f *Frame) {
	atype := f.Method.Code.Bytecode[f.PC+1]
	f.PC += 2
	length := f.Pop().Int32()
	if length < 0 {
		in.throwFrom(t, in.VM.NewNegativeArraySizeException(fmt.Sprintf("%d", length)))
		return
	}
	c, err := in.VM.Classes.FindOrLoadClass(0, primArrayDescriptor(atype))
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	arr, err := in.VM.AllocArray(c, int(length), primArrayWidth(atype), false)
	if err != nil {
		in.throwFrom(t, in.VM.NewOutOfMemoryError())
		return
	}
	f.Push(CellFromPtr(arr))
}

func (in *Interpreter) newRefArray(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	length := f.Pop().Int32()
	if length < 0 {
		in.throwFrom(t, in.VM.NewNegativeArraySizeException(fmt.Sprintf("%d", length)))
		return
	}
	elemName, err := f.Method.Owner.ConstantPool.ClassName(idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	arrName := "[" + elemName
	if len(elemName) == 0 || elemName[0] != '[' {
		arrName = "[L" + elemName + ";"
	}
	c, err := in.VM.Classes.FindOrLoadClass(0, arrName)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	arr, err := in.VM.AllocArray(c, int(length), 8, true)
	if err != nil {
		in.throwFrom(t, in.VM.NewOutOfMemoryError())
		return
	}
	f.Push(CellFromPtr(arr))
}

func (in *Interpreter) arraylength(t *Thread, f *Frame) {
	arr := f.Pop().Ptr()
	if arr == 0 {
		in.throwFrom(t, in.VM.NewNullPointerException())
		return
	}
	f.Push(CellFromInt32(int32(ArrayLength(in.VM.Heap, arr))))
	f.PC++
}

func (in *Interpreter) checkArrayBounds(t *Thread, arr heap.Ptr, index int32) bool {
	if arr == 0 {
		in.throwFrom(t, in.VM.NewNullPointerException())
		return false
	}
	if index < 0 || int(index) >= ArrayLength(in.VM.Heap, arr) {
		in.throwFrom(t, in.VM.NewArrayIndexOutOfBounds(int(index)))
		return false
	}
	return true
}

func (in *Interpreter) arrayLoad(t *Thread, f *Frame, op byte) {
	index := f.Pop().Int32()
	arr := f.Pop().Ptr()
	if !in.checkArrayBounds(t, arr, index) {
		f.PC++
		return
	}
	width := elemWidthFor(op)
	off := 8 + int(index)*width
	payload := in.VM.Heap.Payload(arr)
	f.Push(readElemCell(payload, off, width, op))
	f.PC++
}

func (in *Interpreter) arrayLoadWide(t *Thread, f *Frame) {
	index := f.Pop().Int32()
	arr := f.Pop().Ptr()
	if !in.checkArrayBounds(t, arr, index) {
		f.PC++
		return
	}
	off := 8 + int(index)*8
	payload := in.VM.Heap.Payload(arr)
	f.Push(Cell(binary.LittleEndian.Uint64(payload[off:])))
	f.PC++
}

func (in *Interpreter) arrayStore(t *Thread, f *Frame, op byte) {
	val := f.Pop()
	index := f.Pop().Int32()
	arr := f.Pop().Ptr()
	if !in.checkArrayBounds(t, arr, index) {
		f.PC++
		return
	}
	width := elemWidthFor(op)
	off := 8 + int(index)*width
	payload := in.VM.Heap.Payload(arr)
	writeElemCell(payload, off, width, op, val)
	f.PC++
}

func (in *Interpreter) arrayStoreWide(t *Thread, f *Frame) {
	val := f.Pop()
	index := f.Pop().Int32()
	arr := f.Pop().Ptr()
	if !in.checkArrayBounds(t, arr, index) {
		f.PC++
		return
	}
	off := 8 + int(index)*8
	payload := in.VM.Heap.Payload(arr)
	binary.LittleEndian.PutUint64(payload[off:], uint64(val))
	f.PC++
}

// elemWidthFor mirrors primArrayWidth's packing (spec §3 "array objects":
// primitive element arrays are packed to their natural width; reference
// arrays use a full 8-byte cell per element like every other reference
// slot in this core).
func elemWidthFor(op byte) int {
	switch op {
	case opBastore, opBaload:
		return 1
	case opCastore, opCaload, opSastore, opSaload:
		return 2
	case opAastore, opAaload:
		return 8
	default: // iaload/iastore, faload/fastore
		return 4
	}
}

func readElemCell(payload []byte, off, width int, op byte) Cell {
	switch width {
	case 1:
		return CellFromInt32(int32(int8(payload[off])))
	case 2:
		if op == opCaload {
			return CellFromInt32(int32(binary.LittleEndian.Uint16(payload[off:])))
		}
		return CellFromInt32(int32(int16(binary.LittleEndian.Uint16(payload[off:]))))
	case 4:
		return Cell(uint64(binary.LittleEndian.Uint32(payload[off:])))
	default:
		return Cell(binary.LittleEndian.Uint64(payload[off:]))
	}
}

func writeElemCell(payload []byte, off, width int, op byte, val Cell) {
	switch width {
	case 1:
		payload[off] = byte(val.Int32())
	case 2:
		binary.LittleEndian.PutUint16(payload[off:], uint16(val.Int32()))
	case 4:
		binary.LittleEndian.PutUint32(payload[off:], uint32(val))
	default:
		binary.LittleEndian.PutUint64(payload[off:], uint64(val))
	}
}

func (in *Interpreter) checkcast(t *Thread, f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	obj := f.Peek(0).Ptr()
	if obj == 0 {
		return // null survives any checkcast
	}
	name, err := f.Method.Owner.ConstantPool.ClassName(idx)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	target, err := in.VM.Classes.FindOrLoadClass(0, name)
	if err != nil {
		in.throwFrom(t, in.VM.newSyntheticThrowable("java/lang/NoClassDefFoundError"))
		return
	}
	sub := in.VM.classOfObject(obj)
	if sub != nil && !types.IsAssignableFrom(sub, target) {
		in.throwFrom(t, in.VM.NewClassCastException(sub.Name.String()+" cannot be cast to "+name))
	}
}

func (in *Interpreter) instanceofOp(f *Frame) {
	idx := binary.BigEndian.Uint16(f.Method.Code.Bytecode[f.PC+1:])
	f.PC += 3
	obj := f.Pop().Ptr()
	if obj == 0 {
		f.Push(CellFromInt32(0))
		return
	}
	name, err := f.Method.Owner.ConstantPool.ClassName(idx)
	if err != nil {
		f.Push(CellFromInt32(0))
		return
	}
	tc, err := in.VM.Classes.FindOrLoadClass(0, name)
	if err != nil {
		f.Push(CellFromInt32(0))
		return
	}
	sub := in.VM.classOfObject(obj)
	if sub != nil && types.IsAssignableFrom(sub, tc) {
		f.Push(CellFromInt32(1))
	} else {
		f.Push(CellFromInt32(0))
	}
}

// Now returns the current wall-clock time. The natives in internal/native
// and the run loop driving Scheduler.Tick call time.Now directly rather
// than this helper.
func Now() time.Time { return time.Now() }

// Launch starts mainClazz's public static void main(String[]) on a fresh
// scheduler thread (spec §4.6 "entry point"), building a
// java.lang.String[] out of argv first. The caller drives the returned
// thread to completion the same way it drives every other thread: by
// calling RunQuantum through the scheduler loop until it dies.
func (in *Interpreter) Launch(mainClazz *types.Clazz, argv []string) (*Thread, error) {
	t := in.VM.Sched.NewThread(in.VM.Config.StackHeight)
	t.Name = "main"
	if !in.ensureInitialized(t, mainClazz) {
		return t, fmt.Errorf("%s: <clinit> failed", mainClazz.Name.String())
	}
	m := mainClazz.FindMethod("main", "([Ljava/lang/String;)V")
	if m == nil || !m.IsStatic() {
		return t, fmt.Errorf("%s: no public static void main(String[])", mainClazz.Name.String())
	}
	argsArr, err := in.buildStringArray(argv)
	if err != nil {
		return t, err
	}
	in.dispatch(t, m, []Cell{CellFromPtr(argsArr)}, nil)
	return t, nil
}

// buildStringArray materializes argv as a java.lang.String[], interning
// each element the same way ldc does for String constants.
func (in *Interpreter) buildStringArray(argv []string) (heap.Ptr, error) {
	arrClazz, err := in.VM.Classes.FindOrLoadClass(0, "[Ljava/lang/String;")
	if err != nil {
		return 0, err
	}
	arr, err := in.VM.AllocArray(arrClazz, len(argv), 8, true)
	if err != nil {
		return 0, err
	}
	payload := in.VM.Heap.Payload(arr)
	for i, s := range argv {
		sp := in.VM.internedString(s)
		binary.LittleEndian.PutUint64(payload[8+i*8:], uint64(sp))
	}
	return arr, nil
}
