// Package types implements the VM's object/type model: Clazz variants
// (instance, array, primitive), resolution pools, field/method tables,
// assignability rules, and the class-loading state machine (spec §4.3).
package types

import "fmt"

// JType is the primitive/reference kind a Cell holds, decided by the
// verified descriptor that produced it — Cells themselves are untyped.
type JType uint8

const (
	JBoolean JType = iota
	JByte
	JChar
	JShort
	JInt
	JLong
	JFloat
	JDouble
	JReference
	JVoid
)

// Width reports how many Cells a value of this type occupies: long and
// double occupy two consecutive cells (spec §3 "Cell").
func (t JType) Width() int {
	if t == JLong || t == JDouble {
		return 2
	}
	return 1
}

func (t JType) IsReference() bool { return t == JReference }

func (t JType) String() string {
	switch t {
	case JBoolean:
		return "boolean"
	case JByte:
		return "byte"
	case JChar:
		return "char"
	case JShort:
		return "short"
	case JInt:
		return "int"
	case JLong:
		return "long"
	case JFloat:
		return "float"
	case JDouble:
		return "double"
	case JReference:
		return "reference"
	case JVoid:
		return "void"
	default:
		return "?"
	}
}

// ParseFieldDescriptor reads one JNI-form field descriptor starting at
// offset i (e.g. "I", "Ljava/lang/String;", "[I", "[[Lfoo/Bar;"), and
// returns the JType, the fully-qualified class name if it is an object or
// array-of-object type (descriptor form, e.g. "java/lang/String" or
// "[I"), and the next unread offset.
func ParseFieldDescriptor(desc string, i int) (JType, string, int, error) {
	if i >= len(desc) {
		return 0, "", i, fmt.Errorf("truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'Z':
		return JBoolean, "", i + 1, nil
	case 'B':
		return JByte, "", i + 1, nil
	case 'C':
		return JChar, "", i + 1, nil
	case 'S':
		return JShort, "", i + 1, nil
	case 'I':
		return JInt, "", i + 1, nil
	case 'J':
		return JLong, "", i + 1, nil
	case 'F':
		return JFloat, "", i + 1, nil
	case 'D':
		return JDouble, "", i + 1, nil
	case 'V':
		return JVoid, "", i + 1, nil
	case 'L':
		j := i + 1
		for j < len(desc) && desc[j] != ';' {
			j++
		}
		if j >= len(desc) {
			return 0, "", i, fmt.Errorf("unterminated class descriptor %q", desc)
		}
		return JReference, desc[i+1 : j], j + 1, nil
	case '[':
		_, _, next, err := ParseFieldDescriptor(desc, i+1)
		if err != nil {
			return 0, "", i, err
		}
		return JReference, desc[i:next], next, nil
	default:
		return 0, "", i, fmt.Errorf("invalid descriptor char %q in %q", desc[i], desc)
	}
}

// MethodArgTypes splits a JNI method descriptor "(args)ret" into its
// argument JTypes (in order) and return JType.
func MethodArgTypes(desc string) (args []JType, ret JType, err error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, 0, fmt.Errorf("invalid method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		jt, _, next, err := ParseFieldDescriptor(desc, i)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, jt)
		i = next
	}
	if i >= len(desc) {
		return nil, 0, fmt.Errorf("unterminated method descriptor %q", desc)
	}
	retType, _, _, err := ParseFieldDescriptor(desc, i+1)
	if err != nil {
		return nil, 0, err
	}
	return args, retType, nil
}

// ArgCells returns the number of Cells the argument list occupies
// (longs/doubles counted twice), used to size the callee's locals.
func ArgCells(args []JType) int {
	n := 0
	for _, a := range args {
		n += a.Width()
	}
	return n
}
