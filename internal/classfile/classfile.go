// Package classfile models the external collaborator spec.md keeps out of
// scope: "class-file parsing from disk, presented as a byte-source that
// yields verified class structures." It defines the ClassSource interface
// the type model resolves against, plus a reference in-memory decoder for
// the structural subset of the .class format the interpreter needs.
//
// Full bytecode verification is explicitly out of scope; this decoder
// performs only the structural checks needed to build a VerifiedClass
// (magic number, pool tag bounds, attribute-length bounds).
package classfile

import (
	"encoding/binary"
	"fmt"
)

// ClassSource yields verified class structures by binary name. A real
// embedding supplies one backed by a filesystem/classpath/network loader;
// tests and the reference natives use InMemorySource.
type ClassSource interface {
	Load(binaryName string) (*VerifiedClass, error)
}

// ConstTag enumerates the constant-pool entry kinds this core consumes.
type ConstTag uint8

const (
	ConstUtf8 ConstTag = iota + 1
	ConstInteger
	ConstFloat
	ConstLong
	ConstDouble
	ConstClass
	ConstString
	ConstFieldref
	ConstMethodref
	ConstInterfaceMethodref
	ConstNameAndType
)

// ConstEntry is a tagged constant-pool slot. Long and Double entries
// occupy two consecutive pool indices per the JVMS, mirrored here by
// leaving the following slot empty (Tag == 0).
type ConstEntry struct {
	Tag ConstTag

	Utf8     string // ConstUtf8
	Int32    int32  // ConstInteger
	Float32  float32
	Int64    int64
	Float64  float64

	// ConstClass / ConstString: NameIndex is the UTF8 index.
	NameIndex uint16

	// ConstFieldref/Methodref/InterfaceMethodref.
	ClassIndex       uint16
	NameAndTypeIndex uint16

	// ConstNameAndType.
	DescriptorIndex uint16
}

// ConstantPool is a 1-indexed (JVMS-style) table; index 0 is unused.
type ConstantPool []ConstEntry

func (cp ConstantPool) Utf8(idx uint16) (string, error) {
	if int(idx) >= len(cp) || cp[idx].Tag != ConstUtf8 {
		return "", fmt.Errorf("constant pool index %d is not Utf8", idx)
	}
	return cp[idx].Utf8, nil
}

func (cp ConstantPool) ClassName(idx uint16) (string, error) {
	if int(idx) >= len(cp) || cp[idx].Tag != ConstClass {
		return "", fmt.Errorf("constant pool index %d is not Class", idx)
	}
	return cp.Utf8(cp[idx].NameIndex)
}

// FieldInfo is one entry of a class's field table.
type FieldInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	ConstValue  *ConstEntry // non-nil only for a static ConstantValue attribute
}

// ExceptionTableEntry is one row of a Code attribute's exception table.
type ExceptionTableEntry struct {
	StartPC, EndPC, HandlerPC uint16
	CatchType                 string // "" means catch-all (finally)
}

// LineNumberEntry maps a bytecode offset to a source line.
type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

// CodeAttribute holds the bytecode and tables the interpreter needs.
type CodeAttribute struct {
	MaxStack, MaxLocals uint16
	Bytecode            []byte
	ExceptionTable      []ExceptionTableEntry
	LineNumbers         []LineNumberEntry
}

// MethodInfo is one entry of a class's method table.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Code        *CodeAttribute // nil for abstract/native methods
}

// VerifiedClass is the structurally-checked output the type model
// resolves: everything a loader needs to build an InstanceClazz, short of
// linking against other classes (which the type model itself performs).
type VerifiedClass struct {
	MinorVersion, MajorVersion uint16
	ConstantPool               ConstantPool
	AccessFlags                uint16
	ThisClass                  string
	SuperClass                 string // "" for java/lang/Object
	Interfaces                 []string
	Fields                     []FieldInfo
	Methods                    []MethodInfo
	SourceFile                 string // "" if absent
}

const classMagic = 0xCAFEBABE

// Decode performs the structural decode of a standard .class byte stream.
// Bytecode-level verification (stack-map consistency, type-safety proofs)
// is explicitly out of scope (spec §1 Non-goals: "class-file verification
// beyond structural checks").
func Decode(data []byte) (*VerifiedClass, error) {
	r := &byteReader{data: data}

	magic, err := r.u4()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", errClassFormat)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", errClassFormat, magic)
	}

	minor, _ := r.u2()
	major, _ := r.u2()

	cp, err := decodeConstantPool(r)
	if err != nil {
		return nil, err
	}

	accessFlags, _ := r.u2()
	thisIdx, _ := r.u2()
	superIdx, _ := r.u2()

	thisClass, err := cp.ClassName(thisIdx)
	if err != nil {
		return nil, fmt.Errorf("%w: this_class: %v", errClassFormat, err)
	}
	var superClass string
	if superIdx != 0 {
		superClass, err = cp.ClassName(superIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: super_class: %v", errClassFormat, err)
		}
	}

	ifaceCount, _ := r.u2()
	interfaces := make([]string, 0, ifaceCount)
	for i := 0; i < int(ifaceCount); i++ {
		idx, _ := r.u2()
		name, err := cp.ClassName(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %d: %v", errClassFormat, i, err)
		}
		interfaces = append(interfaces, name)
	}

	fields, err := decodeFields(r, cp)
	if err != nil {
		return nil, err
	}
	methods, err := decodeMethods(r, cp)
	if err != nil {
		return nil, err
	}

	sourceFile, err := decodeClassAttributes(r, cp)
	if err != nil {
		return nil, err
	}

	return &VerifiedClass{
		MinorVersion: minor,
		MajorVersion: major,
		ConstantPool: cp,
		AccessFlags:  accessFlags,
		ThisClass:    thisClass,
		SuperClass:   superClass,
		Interfaces:   interfaces,
		Fields:       fields,
		Methods:      methods,
		SourceFile:   sourceFile,
	}, nil
}

func decodeConstantPool(r *byteReader) (ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, fmt.Errorf("%w: constant pool count", errClassFormat)
	}
	cp := make(ConstantPool, count)
	for i := 1; i < int(count); i++ {
		tagByte, err := r.u1()
		if err != nil {
			return nil, fmt.Errorf("%w: constant pool tag at %d", errClassFormat, i)
		}
		entry := ConstEntry{Tag: ConstTag(tagByte)}
		switch entry.Tag {
		case ConstUtf8:
			n, _ := r.u2()
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, fmt.Errorf("%w: utf8 at %d", errClassFormat, i)
			}
			entry.Utf8 = decodeModifiedUtf8(b)
		case ConstInteger:
			v, _ := r.u4()
			entry.Int32 = int32(v)
		case ConstFloat:
			v, _ := r.u4()
			entry.Float32 = floatFromBits(v)
		case ConstLong:
			v, _ := r.u8()
			entry.Int64 = int64(v)
			cp[i] = entry
			i++ // longs occupy two pool slots
			continue
		case ConstDouble:
			v, _ := r.u8()
			entry.Float64 = doubleFromBits(v)
			cp[i] = entry
			i++
			continue
		case ConstClass, ConstString:
			entry.NameIndex, _ = r.u2()
		case ConstFieldref, ConstMethodref, ConstInterfaceMethodref:
			entry.ClassIndex, _ = r.u2()
			entry.NameAndTypeIndex, _ = r.u2()
		case ConstNameAndType:
			entry.NameIndex, _ = r.u2()
			entry.DescriptorIndex, _ = r.u2()
		default:
			return nil, fmt.Errorf("%w: unsupported constant tag %d at %d", errClassFormat, tagByte, i)
		}
		cp[i] = entry
	}
	return cp, nil
}

func decodeFields(r *byteReader, cp ConstantPool) ([]FieldInfo, error) {
	count, _ := r.u2()
	fields := make([]FieldInfo, 0, count)
	for i := 0; i < int(count); i++ {
		access, _ := r.u2()
		nameIdx, _ := r.u2()
		descIdx, _ := r.u2()
		name, err := cp.Utf8(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d name: %v", errClassFormat, i, err)
		}
		desc, err := cp.Utf8(descIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d descriptor: %v", errClassFormat, i, err)
		}
		f := FieldInfo{AccessFlags: access, Name: name, Descriptor: desc}

		attrCount, _ := r.u2()
		for a := 0; a < int(attrCount); a++ {
			attrNameIdx, _ := r.u2()
			attrLen, _ := r.u4()
			body, err := r.bytes(int(attrLen))
			if err != nil {
				return nil, fmt.Errorf("%w: field %d attribute %d", errClassFormat, i, a)
			}
			attrName, _ := cp.Utf8(attrNameIdx)
			if attrName == "ConstantValue" && len(body) >= 2 {
				idx := binary.BigEndian.Uint16(body)
				if int(idx) < len(cp) {
					ce := cp[idx]
					f.ConstValue = &ce
				}
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeMethods(r *byteReader, cp ConstantPool) ([]MethodInfo, error) {
	count, _ := r.u2()
	methods := make([]MethodInfo, 0, count)
	for i := 0; i < int(count); i++ {
		access, _ := r.u2()
		nameIdx, _ := r.u2()
		descIdx, _ := r.u2()
		name, err := cp.Utf8(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: method %d name: %v", errClassFormat, i, err)
		}
		desc, err := cp.Utf8(descIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: method %d descriptor: %v", errClassFormat, i, err)
		}
		m := MethodInfo{AccessFlags: access, Name: name, Descriptor: desc}

		attrCount, _ := r.u2()
		for a := 0; a < int(attrCount); a++ {
			attrNameIdx, _ := r.u2()
			attrLen, _ := r.u4()
			body, err := r.bytes(int(attrLen))
			if err != nil {
				return nil, fmt.Errorf("%w: method %d attribute %d", errClassFormat, i, a)
			}
			attrName, _ := cp.Utf8(attrNameIdx)
			if attrName == "Code" {
				code, err := decodeCodeAttribute(body, cp)
				if err != nil {
					return nil, fmt.Errorf("%w: method %s: %v", errClassFormat, name, err)
				}
				m.Code = code
			}
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func decodeCodeAttribute(body []byte, cp ConstantPool) (*CodeAttribute, error) {
	r := &byteReader{data: body}
	maxStack, _ := r.u2()
	maxLocals, _ := r.u2()
	codeLen, _ := r.u4()
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, fmt.Errorf("%w: code body", errClassFormat)
	}

	excCount, _ := r.u2()
	excTable := make([]ExceptionTableEntry, 0, excCount)
	for i := 0; i < int(excCount); i++ {
		start, _ := r.u2()
		end, _ := r.u2()
		handler, _ := r.u2()
		catchIdx, _ := r.u2()
		entry := ExceptionTableEntry{StartPC: start, EndPC: end, HandlerPC: handler}
		if catchIdx != 0 {
			name, err := cp.ClassName(catchIdx)
			if err != nil {
				return nil, fmt.Errorf("%w: exception table %d: %v", errClassFormat, i, err)
			}
			entry.CatchType = name
		}
		excTable = append(excTable, entry)
	}

	ca := &CodeAttribute{
		MaxStack:       maxStack,
		MaxLocals:      maxLocals,
		Bytecode:       code,
		ExceptionTable: excTable,
	}

	attrCount, _ := r.u2()
	for a := 0; a < int(attrCount); a++ {
		attrNameIdx, _ := r.u2()
		attrLen, _ := r.u4()
		attrBody, err := r.bytes(int(attrLen))
		if err != nil {
			return nil, fmt.Errorf("%w: code sub-attribute %d", errClassFormat, a)
		}
		attrName, _ := cp.Utf8(attrNameIdx)
		if attrName == "LineNumberTable" {
			lr := &byteReader{data: attrBody}
			n, _ := lr.u2()
			for i := 0; i < int(n); i++ {
				startPC, _ := lr.u2()
				line, _ := lr.u2()
				ca.LineNumbers = append(ca.LineNumbers, LineNumberEntry{StartPC: startPC, Line: line})
			}
		}
	}

	return ca, nil
}

func decodeClassAttributes(r *byteReader, cp ConstantPool) (string, error) {
	count, _ := r.u2()
	sourceFile := ""
	for i := 0; i < int(count); i++ {
		attrNameIdx, _ := r.u2()
		attrLen, _ := r.u4()
		body, err := r.bytes(int(attrLen))
		if err != nil {
			return "", fmt.Errorf("%w: class attribute %d", errClassFormat, i)
		}
		attrName, _ := cp.Utf8(attrNameIdx)
		if attrName == "SourceFile" && len(body) >= 2 {
			idx := binary.BigEndian.Uint16(body)
			name, err := cp.Utf8(idx)
			if err == nil {
				sourceFile = name
			}
		}
	}
	return sourceFile, nil
}
