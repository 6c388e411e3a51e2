package vm

import (
	"encoding/binary"
	"testing"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/config"
)

// calcClass builds a minimal, hand-verified "Calc" class with one static
// field (result:I) and one static void main()V method computing 2+3 and
// storing it, exercising the full find-or-load -> dispatch -> interpret
// -> static-field-write path end to end (spec §4.3/§4.4) without going
// through classfile.Decode (covered separately by classfile_test.go).
func calcClass() *classfile.VerifiedClass {
	cp := make(classfile.ConstantPool, 7)
	cp[1] = classfile.ConstEntry{Tag: classfile.ConstUtf8, Utf8: "Calc"}
	cp[2] = classfile.ConstEntry{Tag: classfile.ConstClass, NameIndex: 1}
	cp[3] = classfile.ConstEntry{Tag: classfile.ConstUtf8, Utf8: "result"}
	cp[4] = classfile.ConstEntry{Tag: classfile.ConstUtf8, Utf8: "I"}
	cp[5] = classfile.ConstEntry{Tag: classfile.ConstNameAndType, NameIndex: 3, DescriptorIndex: 4}
	cp[6] = classfile.ConstEntry{Tag: classfile.ConstFieldref, ClassIndex: 2, NameAndTypeIndex: 5}

	// iconst_2, iconst_3, iadd, putstatic #6, return
	code := []byte{0x05, 0x06, 0x60, 0xb3, 0x00, 0x06, 0xb1}

	return &classfile.VerifiedClass{
		ConstantPool: cp,
		ThisClass:    "Calc",
		Fields: []classfile.FieldInfo{
			{AccessFlags: 0x0008, Name: "result", Descriptor: "I"},
		},
		Methods: []classfile.MethodInfo{
			{
				AccessFlags: 0x0008, // static
				Name:        "main",
				Descriptor:  "()V",
				Code: &classfile.CodeAttribute{
					MaxStack:  2,
					MaxLocals: 0,
					Bytecode:  code,
				},
			},
		},
	}
}

func TestInterpreterRunsStaticMethodAndWritesStaticField(t *testing.T) {
	src := classfile.NewInMemorySource()
	src.PutVerified("Calc", calcClass())

	v := New(config.Default(), src)
	in := NewInterpreter(v)

	clazz, err := v.Classes.FindOrLoadClass(0, "Calc")
	if err != nil {
		t.Fatalf("FindOrLoadClass: %v", err)
	}
	m := clazz.FindMethod("main", "()V")
	if m == nil {
		t.Fatal("main()V not found")
	}

	th := v.Sched.NewThread(v.Config.StackHeight)
	in.dispatch(th, m, nil, nil)

	for i := 0; i < 1000 && th.IsRunnable(); i++ {
		if in.RunQuantum(th, 100) == StepDied {
			break
		}
	}
	if !th.IsDead() {
		t.Fatalf("thread did not finish, status=%v", th.Status)
	}
	if th.PendingException != 0 {
		t.Fatalf("unexpected pending exception: %v", th.PendingException)
	}

	field := clazz.FindField("result", "I")
	if field == nil {
		t.Fatal("result field not found")
	}
	payload := v.Heap.Payload(clazz.StaticStorage)
	got := int32(binary.LittleEndian.Uint64(payload[field.Offset*8:]))
	if got != 5 {
		t.Errorf("Calc.result = %d, want 5", got)
	}
}

func TestInterpreterDivByZeroThrowsArithmeticException(t *testing.T) {
	src := classfile.NewInMemorySource()
	vc := calcClass()
	// iconst_1, iconst_0, idiv, pop, return
	vc.Methods[0].Code.Bytecode = []byte{0x04, 0x03, 0x6c, 0x57, 0xb1}
	src.PutVerified("Calc", vc)
	src.PutVerified("java/lang/ArithmeticException", &classfile.VerifiedClass{ThisClass: "java/lang/ArithmeticException"})

	v := New(config.Default(), src)
	in := NewInterpreter(v)

	clazz, err := v.Classes.FindOrLoadClass(0, "Calc")
	if err != nil {
		t.Fatalf("FindOrLoadClass: %v", err)
	}
	m := clazz.FindMethod("main", "()V")

	th := v.Sched.NewThread(v.Config.StackHeight)
	in.dispatch(th, m, nil, nil)
	for i := 0; i < 1000 && th.IsRunnable(); i++ {
		if in.RunQuantum(th, 100) == StepDied {
			break
		}
	}
	if th.PendingException == 0 {
		t.Fatal("expected a pending ArithmeticException to propagate past the bottom frame")
	}
}
