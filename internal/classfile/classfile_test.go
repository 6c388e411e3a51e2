package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalClass assembles the raw .class bytes for a trivial class
// with no superclass, no interfaces, one static int field with a
// ConstantValue attribute, and one method carrying a Code attribute (with
// no LineNumberTable or exception-table entries).
func buildMinimalClass(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	u2 := func(v uint16) { binary.Write(&buf, binary.BigEndian, v) }
	u4 := func(v uint32) { binary.Write(&buf, binary.BigEndian, v) }

	u4(classMagic)
	u2(0) // minor
	u2(52) // major

	// Constant pool (indices 1..9).
	u2(10) // constant_pool_count = count+1
	// 1: Utf8 "Foo"
	buf.WriteByte(byte(ConstUtf8))
	u2(3)
	buf.WriteString("Foo")
	// 2: Class #1
	buf.WriteByte(byte(ConstClass))
	u2(1)
	// 3: Utf8 "count"
	buf.WriteByte(byte(ConstUtf8))
	u2(5)
	buf.WriteString("count")
	// 4: Utf8 "I"
	buf.WriteByte(byte(ConstUtf8))
	u2(1)
	buf.WriteString("I")
	// 5: Integer 7
	buf.WriteByte(byte(ConstInteger))
	u4(7)
	// 6: Utf8 "ConstantValue"
	buf.WriteByte(byte(ConstUtf8))
	u2(13)
	buf.WriteString("ConstantValue")
	// 7: Utf8 "run"
	buf.WriteByte(byte(ConstUtf8))
	u2(3)
	buf.WriteString("run")
	// 8: Utf8 "()V"
	buf.WriteByte(byte(ConstUtf8))
	u2(3)
	buf.WriteString("()V")
	// 9: Utf8 "Code"
	buf.WriteByte(byte(ConstUtf8))
	u2(4)
	buf.WriteString("Code")

	u2(0x0021) // access_flags: public super
	u2(2)      // this_class -> #2 (Foo)
	u2(0)      // super_class: none (java/lang/Object)
	u2(0)      // interfaces_count

	// Fields: one static field with ConstantValue.
	u2(1)
	u2(0x0008) // access: static
	u2(3)      // name -> "count"
	u2(4)      // descriptor -> "I"
	u2(1)      // attributes_count
	u2(6)      // attr name -> "ConstantValue"
	u4(2)      // attr length
	u2(5)      // constantvalue_index -> #5 (Integer 7)

	// Methods: one method with a Code attribute.
	u2(1)
	u2(0x0000)
	u2(7) // name -> "run"
	u2(8) // descriptor -> "()V"
	u2(1) // attributes_count
	u2(9) // attr name -> "Code"

	var code bytes.Buffer
	cu2 := func(v uint16) { binary.Write(&code, binary.BigEndian, v) }
	cu4 := func(v uint32) { binary.Write(&code, binary.BigEndian, v) }
	cu2(1) // max_stack
	cu2(0) // max_locals
	bytecode := []byte{0xb1} // return
	cu4(uint32(len(bytecode)))
	code.Write(bytecode)
	cu2(0) // exception_table_length
	cu2(0) // attributes_count (no LineNumberTable, kept simple)

	u4(uint32(code.Len()))
	buf.Write(code.Bytes())

	u2(0) // class attributes_count

	return buf.Bytes()
}

func TestDecodeMinimalClass(t *testing.T) {
	data := buildMinimalClass(t)
	vc, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if vc.ThisClass != "Foo" {
		t.Errorf("ThisClass = %q, want Foo", vc.ThisClass)
	}
	if vc.SuperClass != "" {
		t.Errorf("SuperClass = %q, want empty (java/lang/Object)", vc.SuperClass)
	}
	if len(vc.Fields) != 1 || vc.Fields[0].Name != "count" || vc.Fields[0].Descriptor != "I" {
		t.Fatalf("Fields = %+v, want one count:I field", vc.Fields)
	}
	if vc.Fields[0].ConstValue == nil || vc.Fields[0].ConstValue.Int32 != 7 {
		t.Errorf("ConstValue = %+v, want Int32=7", vc.Fields[0].ConstValue)
	}
	if len(vc.Methods) != 1 || vc.Methods[0].Name != "run" || vc.Methods[0].Descriptor != "()V" {
		t.Fatalf("Methods = %+v, want one run()V method", vc.Methods)
	}
	if vc.Methods[0].Code == nil || !bytes.Equal(vc.Methods[0].Code.Bytecode, []byte{0xb1}) {
		t.Fatalf("Code = %+v, want bytecode [0xb1]", vc.Methods[0].Code)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := buildMinimalClass(t)
	data[0] = 0x00 // corrupt the magic number
	if _, err := Decode(data); err == nil {
		t.Error("expected an error for a corrupted magic number")
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{0xCA, 0xFE}); err == nil {
		t.Error("expected an error for a truncated header")
	}
}

func TestConstantPoolClassNameRejectsWrongTag(t *testing.T) {
	cp := ConstantPool{{}, {Tag: ConstUtf8, Utf8: "Foo"}}
	if _, err := cp.ClassName(1); err == nil {
		t.Error("ClassName on a Utf8 entry should error")
	}
}
