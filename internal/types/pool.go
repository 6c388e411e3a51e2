package types

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mabhi256/jovm/internal/classfile"
	"github.com/mabhi256/jovm/internal/heap"
	strs "github.com/mabhi256/jovm/internal/strings"
	"github.com/mabhi256/jovm/internal/vmerr"
)

// Pool is the class pool: the sole owner of every loaded Clazz, indexed
// the way the teacher's ClassRegistry indexes HPROF classes — by name and
// by insertion order — so lookups and deterministic dumps (`jovm heap`,
// JDWP's AllClasses) are both O(1)/O(n log n) without re-deriving order.
type Pool struct {
	byName map[string]*Clazz
	loaded []*Clazz // insertion order

	source classfile.ClassSource
	utf    *strs.UtfPool
	arena  *heap.Allocator

	// unloaded holds classes retyped to AllocStatic by the collector
	// (spec §4.2 "class metadata that becomes unreachable is moved to an
	// unloaded classes list") until the debugger drains ClassUnload
	// events and the core frees them.
	unloaded []*Clazz
}

func NewPool(source classfile.ClassSource, utf *strs.UtfPool, arena *heap.Allocator) *Pool {
	return &Pool{
		byName: make(map[string]*Clazz),
		source: source,
		utf:    utf,
		arena:  arena,
	}
}

// ByName returns an already-loaded class, without triggering a load.
func (p *Pool) ByName(name string) (*Clazz, bool) {
	c, ok := p.byName[name]
	return c, ok
}

// Loaded returns every currently loaded class in load order.
func (p *Pool) Loaded() []*Clazz {
	return append([]*Clazz(nil), p.loaded...)
}

// Unloaded returns classes the collector has retired but not yet freed.
func (p *Pool) Unloaded() []*Clazz { return p.unloaded }

// OnClassUnreachable implements heap.ClassUnloader: when a debugger
// session is open the class is parked on the unloaded list instead of
// being freed outright, so the event engine can still read its
// JniSignature when emitting ClassUnload.
func (p *Pool) OnClassUnreachable(a *heap.Allocator, chunk heap.Ptr) bool {
	// Our Clazz metadata lives as native Go values, not as arena chunks
	// (see design notes on cyclic graphs); the chunk passed here is the
	// companion java.lang.Class object. We look it up by ClassObj.
	for name, c := range p.byName {
		if c.ClassObj == chunk {
			delete(p.byName, name)
			p.unloaded = append(p.unloaded, c)
			return true
		}
	}
	return false
}

// DrainUnloaded removes and returns every parked-unloaded class, for the
// debugger to emit ClassUnload events against before the core frees them.
func (p *Pool) DrainUnloaded() []*Clazz {
	out := p.unloaded
	p.unloaded = nil
	return out
}

// FindOrLoadClass implements spec §4.3: find_or_load_class. `loader` is
// accepted for interface compatibility with multi-loader embeddings but
// this core only models the bootstrap loader (no Non-goal bars a single
// fixed loader; a full loader hierarchy was not in scope for the core).
func (p *Pool) FindOrLoadClass(loader heap.Ptr, name string) (*Clazz, error) {
	if c, ok := p.byName[name]; ok {
		return c, nil
	}

	if name != "" && name[0] == '[' {
		return p.loadArrayClass(loader, name)
	}
	if jt, ok := primitiveByName[name]; ok {
		return p.loadPrimitiveClass(jt, name)
	}

	vc, err := p.source.Load(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vmerr.ErrClassNotFound, name, err)
	}
	return p.defineClass(loader, name, vc)
}

func (p *Pool) defineClass(loader heap.Ptr, name string, vc *classfile.VerifiedClass) (*Clazz, error) {
	c := &Clazz{
		Kind:         KindInstance,
		Name:         p.utf.GetString(name),
		JniSignature: p.utf.GetString("L" + name + ";"),
		State:        StateLoading,
		AccessFlags:  vc.AccessFlags,
		ClassLoader:  loader,
		ConstantPool: vc.ConstantPool,
		SourceFile:   vc.SourceFile,
	}
	p.byName[name] = c // visible (Loading) before super resolution, so
	// self-referential structures and circular class graphs terminate.

	if vc.SuperClass != "" {
		super, err := p.FindOrLoadClass(loader, vc.SuperClass)
		if err != nil {
			delete(p.byName, name)
			return nil, fmt.Errorf("%w: %s extends missing %s", vmerr.ErrLinkage, name, vc.SuperClass)
		}
		c.Super = super
	}
	for _, ifaceName := range vc.Interfaces {
		iface, err := p.FindOrLoadClass(loader, ifaceName)
		if err != nil {
			delete(p.byName, name)
			return nil, fmt.Errorf("%w: %s implements missing %s", vmerr.ErrLinkage, name, ifaceName)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	if err := p.buildFields(c, vc); err != nil {
		delete(p.byName, name)
		return nil, err
	}
	p.buildMethods(c, vc)
	layoutInstanceFields(c)
	if err := p.allocateStaticStorage(c); err != nil {
		delete(p.byName, name)
		return nil, err
	}

	c.State = StateLoaded
	p.loaded = append(p.loaded, c)
	return c, nil
}

func (p *Pool) buildFields(c *Clazz, vc *classfile.VerifiedClass) error {
	for _, fi := range vc.Fields {
		jt, _, _, err := ParseFieldDescriptor(fi.Descriptor, 0)
		if err != nil {
			return fmt.Errorf("%w: field %s: %v", vmerr.ErrClassFormat, fi.Name, err)
		}
		f := &Field{
			Name:        p.utf.GetString(fi.Name),
			Descriptor:  p.utf.GetString(fi.Descriptor),
			JType:       jt,
			AccessFlags: fi.AccessFlags,
			IsStatic:    fi.AccessFlags&AccStatic != 0,
			ConstValue:  fi.ConstValue,
		}
		c.Fields = append(c.Fields, f)
	}
	return nil
}

func (p *Pool) buildMethods(c *Clazz, vc *classfile.VerifiedClass) {
	for _, mi := range vc.Methods {
		args, ret, err := MethodArgTypes(mi.Descriptor)
		if err != nil {
			continue
		}
		m := &Method{
			Owner:       c,
			Name:        p.utf.GetString(mi.Name),
			Descriptor:  p.utf.GetString(mi.Descriptor),
			AccessFlags: mi.AccessFlags,
			ArgTypes:    args,
			RetType:     ret,
			Code:        mi.Code,
		}
		c.Methods = append(c.Methods, m)
	}
}

// layoutInstanceFields assigns Cell offsets to every instance field,
// inherited fields first (so a subclass object's prefix is layout-
// compatible with its superclass, matching how the interpreter reads
// fields purely by offset).
func layoutInstanceFields(c *Clazz) {
	var all []*Field
	offset := 0
	if c.Super != nil {
		all = append(all, c.Super.AllInstFields...)
		offset = c.Super.InstanceCells
	}
	for _, f := range c.Fields {
		if f.IsStatic {
			continue
		}
		f.Offset = offset
		offset += f.JType.Width()
		all = append(all, f)
	}
	c.AllInstFields = all
	c.InstanceCells = offset
}

func (p *Pool) allocateStaticStorage(c *Clazz) error {
	offset := 0
	for _, f := range c.Fields {
		if !f.IsStatic {
			continue
		}
		f.Offset = offset
		offset += f.JType.Width()
	}
	c.StaticCells = offset
	if offset == 0 {
		return nil
	}
	storage, err := p.arena.Calloc(offset*8, heap.AllocStatic)
	if err != nil {
		return fmt.Errorf("%w: static storage for %s", vmerr.ErrOom, c.Name)
	}
	c.StaticStorage = storage
	applyConstantValues(c, p.arena.Payload(storage))
	return nil
}

// applyConstantValues copies ConstantValue attributes into static storage
// ahead of <clinit> running, per JVMS class preparation. Reference-typed
// constants (String) are left zero here; the interpreter materializes and
// writes those lazily on first read, since doing so requires allocating
// on the VM heap.
func applyConstantValues(c *Clazz, staticBytes []byte) {
	for _, f := range c.Fields {
		if !f.IsStatic || f.ConstValue == nil {
			continue
		}
		cell := make([]byte, 8)
		switch f.ConstValue.Tag {
		case classfile.ConstInteger:
			binary.LittleEndian.PutUint64(cell, uint64(uint32(f.ConstValue.Int32)))
		case classfile.ConstLong:
			binary.LittleEndian.PutUint64(cell, uint64(f.ConstValue.Int64))
		case classfile.ConstFloat:
			binary.LittleEndian.PutUint64(cell, uint64(math.Float32bits(f.ConstValue.Float32)))
		case classfile.ConstDouble:
			binary.LittleEndian.PutUint64(cell, math.Float64bits(f.ConstValue.Float64))
		default:
			continue // String constants are materialized lazily by the interpreter
		}
		// arena access happens through the pool that owns this class;
		// StaticStorage payload bytes are laid out as consecutive 8-byte
		// cells in field-offset order.
		copy(staticBytes[f.Offset*8:], cell)
	}
}

var primitiveByName = map[string]JType{
	"boolean": JBoolean, "byte": JByte, "char": JChar, "short": JShort,
	"int": JInt, "long": JLong, "float": JFloat, "double": JDouble, "void": JVoid,
}

func (p *Pool) loadPrimitiveClass(jt JType, name string) (*Clazz, error) {
	c := &Clazz{
		Kind:         KindPrimitive,
		Name:         p.utf.GetString(name),
		JniSignature: p.utf.GetString(primitiveSig(jt)),
		State:        StateInitialized,
		Primitive:    jt,
	}
	p.byName[name] = c
	p.loaded = append(p.loaded, c)
	return c, nil
}

func primitiveSig(jt JType) string {
	switch jt {
	case JBoolean:
		return "Z"
	case JByte:
		return "B"
	case JChar:
		return "C"
	case JShort:
		return "S"
	case JInt:
		return "I"
	case JLong:
		return "J"
	case JFloat:
		return "F"
	case JDouble:
		return "D"
	default:
		return "V"
	}
}

func (p *Pool) loadArrayClass(loader heap.Ptr, name string) (*Clazz, error) {
	jt, _, _, err := ParseFieldDescriptor(name, 0)
	if err != nil || jt != JReference {
		return nil, fmt.Errorf("%w: invalid array descriptor %s", vmerr.ErrClassFormat, name)
	}

	c := &Clazz{
		Kind:         KindArray,
		Name:         p.utf.GetString(name),
		JniSignature: p.utf.GetString(name),
		State:        StateInitialized, // arrays need no <clinit>
		AccessFlags:  0x0011,           // public, final
	}

	componentDesc := name[1:]
	if len(componentDesc) == 1 && primitiveTagJType(componentDesc[0]) != 0xFF {
		c.ComponentJType = primitiveTagJType(componentDesc[0])
	} else {
		// "Lfoo/Bar;" yields "foo/Bar"; a nested array keeps its descriptor.
		_, compName, _, _ := ParseFieldDescriptor(componentDesc, 0)
		comp, err := p.FindOrLoadClass(loader, compName)
		if err != nil {
			return nil, err
		}
		c.ComponentClazz = comp
		c.ComponentJType = JReference
	}

	p.byName[name] = c
	p.loaded = append(p.loaded, c)
	return c, nil
}

// primitiveTagJType maps a single descriptor character to its JType, or
// 0xFF if the character does not name a primitive.
func primitiveTagJType(b byte) JType {
	switch b {
	case 'Z':
		return JBoolean
	case 'B':
		return JByte
	case 'C':
		return JChar
	case 'S':
		return JShort
	case 'I':
		return JInt
	case 'J':
		return JLong
	case 'F':
		return JFloat
	case 'D':
		return JDouble
	default:
		return JType(0xFF)
	}
}

// SortedByLoadOrder mirrors the teacher's sortByLoadOrder helper,
// returning classes in a stable, reproducible order (the JDWP AllClasses
// reply walks Loaded directly). Classes are appended to
// p.loaded strictly in load order already, so this is just a defensive
// copy for callers that mutate the slice they receive.
func (p *Pool) SortedByLoadOrder() []*Clazz {
	return append([]*Clazz(nil), p.loaded...)
}
