package debugger

import (
	"testing"

	"github.com/mabhi256/jovm/internal/types"
	"github.com/mabhi256/jovm/internal/vm"
	strs "github.com/mabhi256/jovm/internal/strings"
)

func TestClassPatternMatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*Foo", "com/example/Foo", true},
		{"*Foo", "com/example/Food", false},
		{"Foo*", "FooBar", true},
		{"Foo*", "XFooBar", false},
		{"com/example/Foo", "com/example/Foo", true},
		{"com/example/Foo", "com/example/Bar", false},
	}
	for _, c := range cases {
		if got := classPatternMatch(c.pattern, c.name); got != c.want {
			t.Errorf("classPatternMatch(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestEventDefMatchesRequiresSameKind(t *testing.T) {
	d := &EventDef{Kind: KindBreakpoint, inUse: true}
	ctx := &EventContext{Kind: KindSingleStep}
	if d.matches(ctx) {
		t.Error("a Breakpoint def must not match a SingleStep occurrence")
	}
}

func TestEventDefMatchesThreadOnly(t *testing.T) {
	a := &vm.Thread{ID: 1}
	b := &vm.Thread{ID: 2}
	d := &EventDef{Kind: KindBreakpoint, inUse: true, Modifiers: []Modifier{{Kind: ModThreadOnly, Thread: a}}}

	if !d.matches(&EventContext{Kind: KindBreakpoint, Thread: a}) {
		t.Error("expected a match for the same thread")
	}
	if d.matches(&EventContext{Kind: KindBreakpoint, Thread: b}) {
		t.Error("expected no match for a different thread")
	}
}

func TestEventDefMatchesClassMatchModifier(t *testing.T) {
	p := strs.NewUtfPool()
	clazz := &types.Clazz{Name: p.GetString("com/example/Foo")}
	d := &EventDef{Kind: KindClassPrepare, inUse: true, Modifiers: []Modifier{{Kind: ModClassMatch, ClassPattern: "com/example/*"}}}

	if !d.matches(&EventContext{Kind: KindClassPrepare, Clazz: clazz}) {
		t.Error("expected ClassMatch to match a class under the pattern's prefix")
	}

	other := &types.Clazz{Name: p.GetString("org/other/Bar")}
	if d.matches(&EventContext{Kind: KindClassPrepare, Clazz: other}) {
		t.Error("expected ClassMatch to reject a class outside the pattern")
	}
}

func TestEventDefMatchesExceptionCaughtUncaught(t *testing.T) {
	caughtOnly := &EventDef{Kind: KindException, inUse: true, Modifiers: []Modifier{{Kind: ModExceptionOnly, Caught: true, Uncaught: false}}}
	ctxCaught := &EventContext{Kind: KindException, ExceptionCaught: true}
	ctxUncaught := &EventContext{Kind: KindException, ExceptionCaught: false}

	if !caughtOnly.matches(ctxCaught) {
		t.Error("expected a caught-only request to match a caught exception")
	}
	if caughtOnly.matches(ctxUncaught) {
		t.Error("expected a caught-only request to reject an uncaught exception")
	}
}

func TestEventDefMatchesCountDecrementsAndFiresOnce(t *testing.T) {
	d := &EventDef{Kind: KindBreakpoint, inUse: true, Modifiers: []Modifier{{Kind: ModCount, Count: 2}}}
	ctx := &EventContext{Kind: KindBreakpoint}

	if d.matches(ctx) {
		t.Error("with Count=2, the first occurrence must not fire yet")
	}
	if !d.inUse {
		t.Error("the def must remain in use until its count is exhausted")
	}
	if !d.matches(ctx) {
		t.Error("the second occurrence should fire once the count reaches zero")
	}
	if d.inUse {
		t.Error("the def should be retired once its Count modifier is exhausted")
	}
}

func TestEventDefMatchesInstanceOnly(t *testing.T) {
	d := &EventDef{Kind: KindBreakpoint, inUse: true, Modifiers: []Modifier{{Kind: ModInstanceOnly, Instance: 100}}}
	if !d.matches(&EventContext{Kind: KindBreakpoint, This: 100}) {
		t.Error("expected InstanceOnly to match the exact receiver")
	}
	if d.matches(&EventContext{Kind: KindBreakpoint, This: 200}) {
		t.Error("expected InstanceOnly to reject a different receiver")
	}
}
