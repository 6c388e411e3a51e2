package types

import (
	"testing"

	strs "github.com/mabhi256/jovm/internal/strings"
)

func name(p *strs.UtfPool, s string) *strs.Utf { return p.GetString(s) }

func newInstanceClazz(p *strs.UtfPool, n string, super *Clazz, ifaces ...*Clazz) *Clazz {
	return &Clazz{
		Kind:       KindInstance,
		Name:       name(p, n),
		State:      StateLoaded,
		Super:      super,
		Interfaces: ifaces,
	}
}

func TestIsAssignableFromSuperclassChain(t *testing.T) {
	p := strs.NewUtfPool()
	object := newInstanceClazz(p, "java/lang/Object", nil)
	animal := newInstanceClazz(p, "Animal", object)
	dog := newInstanceClazz(p, "Dog", animal)

	if !IsAssignableFrom(dog, animal) {
		t.Error("Dog should be assignable to Animal")
	}
	if !IsAssignableFrom(dog, object) {
		t.Error("Dog should be assignable to Object")
	}
	if IsAssignableFrom(animal, dog) {
		t.Error("Animal should not be assignable to Dog")
	}
}

func TestIsAssignableFromInterfaces(t *testing.T) {
	p := strs.NewUtfPool()
	object := newInstanceClazz(p, "java/lang/Object", nil)
	runnable := newInstanceClazz(p, "java/lang/Runnable", object)
	runnable.AccessFlags = 0x0200
	task := newInstanceClazz(p, "Task", object, runnable)

	if !IsAssignableFrom(task, runnable) {
		t.Error("Task implementing Runnable should be assignable to Runnable")
	}
	if IsAssignableFrom(runnable, task) {
		t.Error("Runnable should not be assignable to Task")
	}
}

func TestIsAssignableFromArrayCovariance(t *testing.T) {
	p := strs.NewUtfPool()
	object := newInstanceClazz(p, "java/lang/Object", nil)
	animal := newInstanceClazz(p, "Animal", object)
	dog := newInstanceClazz(p, "Dog", animal)

	dogArr := &Clazz{Kind: KindArray, Name: name(p, "[LDog;"), State: StateLoaded, ComponentClazz: dog, ComponentJType: JReference}
	animalArr := &Clazz{Kind: KindArray, Name: name(p, "[LAnimal;"), State: StateLoaded, ComponentClazz: animal, ComponentJType: JReference}

	if !IsAssignableFrom(dogArr, animalArr) {
		t.Error("Dog[] should be assignable to Animal[] (array covariance)")
	}
	if !IsAssignableFrom(dogArr, object) {
		t.Error("every array is assignable to Object")
	}
}

func TestIsAssignableFromPrimitiveArraysDoNotWiden(t *testing.T) {
	p := strs.NewUtfPool()
	intArr := &Clazz{Kind: KindArray, Name: name(p, "[I"), State: StateLoaded, ComponentJType: JInt}
	longArr := &Clazz{Kind: KindArray, Name: name(p, "[J"), State: StateLoaded, ComponentJType: JLong}

	if IsAssignableFrom(intArr, longArr) {
		t.Error("int[] must not be assignable to long[]")
	}
}

func TestFieldLookupWalksSuperclassChain(t *testing.T) {
	p := strs.NewUtfPool()
	base := newInstanceClazz(p, "Base", nil)
	base.Fields = []*Field{{Name: name(p, "x"), Descriptor: name(p, "I"), JType: JInt}}
	derived := newInstanceClazz(p, "Derived", base)

	f, err := FieldLookup(derived, "x", "I")
	if err != nil {
		t.Fatalf("FieldLookup: %v", err)
	}
	if f.Name.String() != "x" {
		t.Errorf("got field %q, want x", f.Name.String())
	}

	if _, err := FieldLookup(derived, "missing", "I"); err == nil {
		t.Error("expected error looking up a field that doesn't exist")
	}
}

func TestMethodLookupPrefersOwnOverInterface(t *testing.T) {
	p := strs.NewUtfPool()
	iface := newInstanceClazz(p, "Greeter", nil)
	iface.AccessFlags = 0x0200
	iface.Methods = []*Method{{Name: name(p, "greet"), Descriptor: name(p, "()V")}}

	impl := newInstanceClazz(p, "Impl", nil, iface)
	own := &Method{Name: name(p, "greet"), Descriptor: name(p, "()V"), Owner: impl}
	impl.Methods = []*Method{own}

	m, err := MethodLookup(impl, "greet", "()V")
	if err != nil {
		t.Fatalf("MethodLookup: %v", err)
	}
	if m != own {
		t.Error("expected the class's own method to win over the interface default")
	}
}

func TestInitializeRunsOnceAndMemoizes(t *testing.T) {
	p := strs.NewUtfPool()
	c := newInstanceClazz(p, "Once", nil)

	calls := 0
	run := func(cc *Clazz) error {
		calls++
		return nil
	}

	if err := Initialize(c, 1, run); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.State != StateInitialized {
		t.Errorf("state = %v, want Initialized", c.State)
	}
	if err := Initialize(c, 1, run); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if calls != 1 {
		t.Errorf("<clinit> ran %d times, want 1", calls)
	}
}

func TestInitializeSuperclassRunsFirst(t *testing.T) {
	p := strs.NewUtfPool()
	super := newInstanceClazz(p, "Super", nil)
	sub := newInstanceClazz(p, "Sub", super)

	var order []string
	run := func(cc *Clazz) error {
		order = append(order, cc.Name.String())
		return nil
	}

	if err := Initialize(sub, 1, run); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(order) != 2 || order[0] != "Super" || order[1] != "Sub" {
		t.Errorf("init order = %v, want [Super Sub]", order)
	}
}

func TestInitializeReentrantFromOwnClinit(t *testing.T) {
	p := strs.NewUtfPool()
	c := newInstanceClazz(p, "Self", nil)

	run := func(cc *Clazz) error {
		return Initialize(cc, 7, nil) // reentrant trigger, same thread
	}

	if err := Initialize(c, 7, run); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}
