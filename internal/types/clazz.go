package types

import (
	"sync"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/heap"
	strs "github.com/mabhi256/jovm/internal/strings"
)

// ClassState traverses Loading -> Loaded -> Initializing -> Initialized,
// or Loaded -> Initializing -> ErrorInitializing on a failed <clinit>
// (spec §3 "Clazz"). A method may execute only once its defining class
// reaches Initialized.
type ClassState uint8

const (
	StateLoading ClassState = iota
	StateLoaded
	StateInitializing
	StateInitialized
	StateErrorInitializing
)

func (s ClassState) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateLoaded:
		return "Loaded"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StateErrorInitializing:
		return "ErrorInitializing"
	default:
		return "?"
	}
}

// Kind discriminates the three Clazz variants. Per the design notes, Go's
// inheritance is never used to model this — dispatch is a data-driven
// switch on Kind everywhere, so adding a variant never changes call sites
// that don't care about it.
type Kind uint8

const (
	KindInstance Kind = iota
	KindArray
	KindPrimitive
)

// Field is one instance or static field slot.
type Field struct {
	Name        *strs.Utf
	Descriptor  *strs.Utf
	JType       JType
	AccessFlags uint16
	IsStatic    bool
	// Offset is the Cell index of this field within its owning storage:
	// the object's field_cells for instance fields, or the owning
	// Clazz's StaticCells for static ones.
	Offset int
	// ConstValue is set for static final fields carrying a
	// ConstantValue attribute (copied into StaticCells at class prep,
	// before <clinit> runs).
	ConstValue *classfile.ConstEntry
}

const (
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccNative       = 0x0100
	AccAbstract     = 0x0400
)

// Method is one method table entry, including its verified bytecode.
type Method struct {
	Owner       *Clazz
	Name        *strs.Utf
	Descriptor  *strs.Utf
	AccessFlags uint16
	ArgTypes    []JType
	RetType     JType
	Code        *classfile.CodeAttribute // nil for native/abstract
}

func (m *Method) IsStatic() bool       { return m.AccessFlags&AccStatic != 0 }
func (m *Method) IsSynchronized() bool { return m.AccessFlags&AccSynchronized != 0 }
func (m *Method) IsNative() bool       { return m.AccessFlags&AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.AccessFlags&AccAbstract != 0 }

// ArgCellCount is the number of locals slots the arguments occupy,
// including an implicit `this` slot for instance methods.
func (m *Method) ArgCellCount() int {
	n := ArgCells(m.ArgTypes)
	if !m.IsStatic() {
		n++
	}
	return n
}

// Clazz is the common-prefix-plus-variant-fields representation of
// spec §3: InstanceClazz, ArrayClazz, and PrimitiveClazz share
// {State, JniSignature, Name, ClassObj, Hash} and each
// add their own fields below, all on one struct switched on Kind.
type Clazz struct {
	Kind Kind

	// Common prefix.
	Name         *strs.Utf // binary name, e.g. "java/lang/String" or "[I"
	JniSignature *strs.Utf // JNI form, e.g. "Ljava/lang/String;"
	Hash         uint64
	State        ClassState
	ClassObj     heap.Ptr // the java.lang.Class instance, once materialized
	AccessFlags  uint16
	ClassLoader  heap.Ptr // 0 for the bootstrap loader

	mu                sync.Mutex
	initializingBy    int64 // thread id running <clinit>; 0 if none
	initWaiters       []chan struct{}
	initErr           error

	// InstanceClazz fields.
	Super          *Clazz
	Interfaces     []*Clazz
	Fields         []*Field // instance fields, declared order, this class only
	AllInstFields  []*Field // resolved: super chain then this class, offsets assigned
	Methods        []*Method
	StaticCells    int // cell count of static storage
	StaticStorage  heap.Ptr // AllocStatic chunk holding static field cells
	ConstantPool   classfile.ConstantPool
	SourceFile     string
	InstanceCells  int // cell count of one instance (excluding the clazz header word)

	// ArrayClazz fields.
	ComponentClazz *Clazz // nil for primitive-component arrays
	ComponentJType JType

	// PrimitiveClazz fields.
	Primitive JType
}

func (c *Clazz) IsInterface() bool { return c.AccessFlags&0x0200 != 0 }

// FindMethod searches this class's own method table only (no super-chain
// walk); used by MethodLookup to walk the chain explicitly so callers can
// observe which class actually declares the resolved method.
func (c *Clazz) FindMethod(name, descriptor string) *Method {
	for _, m := range c.Methods {
		if m.Name.String() == name && m.Descriptor.String() == descriptor {
			return m
		}
	}
	return nil
}

func (c *Clazz) FindField(name, descriptor string) *Field {
	for _, f := range c.Fields {
		if f.Name.String() == name && f.Descriptor.String() == descriptor {
			return f
		}
	}
	return nil
}

// Dim returns the array nesting depth (1 for "[I", 2 for "[[I", 0 for a
// non-array class).
func (c *Clazz) Dim() int {
	if c.Kind != KindArray {
		return 0
	}
	n := 1
	for cc := c.ComponentClazz; cc != nil && cc.Kind == KindArray; cc = cc.ComponentClazz {
		n++
	}
	return n
}
