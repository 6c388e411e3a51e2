package types

import (
	"fmt"

	"github.com/mabhi256/jovm/internal/vmerr"
)

// FieldLookup implements spec §4.3 field_lookup: search this class, then
// its superclass chain, then (failing that) its interfaces — the JVMS
// field-resolution order.
func FieldLookup(c *Clazz, name, descriptor string) (*Field, error) {
	for cur := c; cur != nil; cur = cur.Super {
		if f := cur.FindField(name, descriptor); f != nil {
			return f, nil
		}
	}
	for _, iface := range allInterfaces(c) {
		if f := iface.FindField(name, descriptor); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s:%s", vmerr.ErrNoSuchField, c.Name, name, descriptor)
}

// MethodLookup implements spec §4.3 method_lookup, searching the
// superclass chain first and interfaces second (default/static interface
// methods), matching JVMS method resolution for the instruction set this
// core supports (invokevirtual/static/special/interface).
func MethodLookup(c *Clazz, name, descriptor string) (*Method, error) {
	for cur := c; cur != nil; cur = cur.Super {
		if m := cur.FindMethod(name, descriptor); m != nil {
			return m, nil
		}
	}
	for _, iface := range allInterfaces(c) {
		if m := iface.FindMethod(name, descriptor); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s%s", vmerr.ErrNoSuchMethod, c.Name, name, descriptor)
}

func allInterfaces(c *Clazz) []*Clazz {
	seen := make(map[*Clazz]bool)
	var out []*Clazz
	var walk func(*Clazz)
	walk = func(cc *Clazz) {
		if cc == nil {
			return
		}
		for _, i := range cc.Interfaces {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
				walk(i)
			}
		}
		walk(cc.Super)
	}
	walk(c)
	return out
}

// IsAssignableFrom implements spec §4.3: `is_assignable_from(sub, sup)`,
// i.e. whether a value of static type sub may be assigned to a variable
// of static type sup (JVMS 4.10.1.2), including interface and array
// covariance; primitive array components are only compatible with
// themselves (no widening across array element types).
func IsAssignableFrom(sub, sup *Clazz) bool {
	if sub == sup {
		return true
	}
	if sup == nil {
		return false
	}

	switch sup.Kind {
	case KindPrimitive:
		return sub.Kind == KindPrimitive && sub.Primitive == sup.Primitive

	case KindInstance:
		if sub.Kind != KindInstance && sub.Kind != KindArray {
			return false
		}
		if sup.Name.String() == "java/lang/Object" {
			return true // every reference type, including arrays, is-a Object
		}
		if sub.Kind == KindArray {
			return sup.IsInterface() && (sup.Name.String() == "java/lang/Cloneable" ||
				sup.Name.String() == "java/io/Serializable")
		}
		if sup.IsInterface() {
			for _, i := range allInterfaces(sub) {
				if i == sup {
					return true
				}
			}
			return false
		}
		for cur := sub; cur != nil; cur = cur.Super {
			if cur == sup {
				return true
			}
		}
		return false

	case KindArray:
		if sub.Kind != KindArray {
			return false
		}
		if sub.ComponentJType != JReference || sup.ComponentJType != JReference {
			// Primitive array components are only compatible with
			// themselves (spec §4.3).
			return sub.ComponentJType == sup.ComponentJType
		}
		return IsAssignableFrom(sub.ComponentClazz, sup.ComponentClazz)
	}
	return false
}

// ClinitRunner executes a class's <clinit> method; supplied by
// internal/vm, which is the only package that can actually interpret
// bytecode. Kept as an injected function so the type model's locking
// protocol stays independent of the interpreter.
type ClinitRunner func(c *Clazz) error

// Initialize implements spec §4.3 initialize(clazz) and the JVMS 5.5
// lock-and-state protocol: Loaded -> Initializing -> Initialized |
// ErrorInitializing. threadID identifies the calling green thread so a
// reentrant trigger from the class's own <clinit> (the same thread
// hitting its own class again) is a no-op rather than a deadlock.
func Initialize(c *Clazz, threadID int64, run ClinitRunner) error {
	c.mu.Lock()
	switch c.State {
	case StateInitialized:
		c.mu.Unlock()
		return nil
	case StateErrorInitializing:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s failed to initialize previously", vmerr.ErrLinkage, c.Name)
	case StateInitializing:
		if c.initializingBy == threadID {
			c.mu.Unlock()
			return nil // reentrant from our own <clinit>
		}
		wait := make(chan struct{})
		c.initWaiters = append(c.initWaiters, wait)
		c.mu.Unlock()
		<-wait // cooperative scheduler resumes this goroutine once initialized
		c.mu.Lock()
		err := c.initErr
		c.mu.Unlock()
		return err
	}

	c.State = StateInitializing
	c.initializingBy = threadID
	c.mu.Unlock()

	var err error
	if c.Super != nil {
		if serr := Initialize(c.Super, threadID, run); serr != nil {
			err = fmt.Errorf("%w: superclass %s failed to initialize", vmerr.ErrLinkage, c.Super.Name)
		}
	}
	if err == nil && run != nil {
		err = run(c)
	}

	c.mu.Lock()
	if err != nil {
		c.State = StateErrorInitializing
		c.initErr = err
	} else {
		c.State = StateInitialized
	}
	waiters := c.initWaiters
	c.initWaiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return err
}
