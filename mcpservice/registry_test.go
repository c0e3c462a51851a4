package mcpservice

import (
	"context"
	"testing"
	"time"
)

func echoTool(name string) *FuncTool {
	return NewFuncTool(name, "echo "+name, nil, nil, func(ctx context.Context, input string) (string, error) {
		return input, nil
	})
}

func TestRegistryListIsSortedByIdentity(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mid", "Beta"} {
		if err := r.Add(echoTool(name)); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	list := r.List()
	want := []string{"Beta", "alpha", "mid", "zeta"}
	if len(list) != len(want) {
		t.Fatalf("len: want %d got %d", len(want), len(list))
	}
	for i, name := range want {
		if got := list[i].Name(); got != name {
			t.Fatalf("list[%d]: want %q got %q", i, name, got)
		}
	}
}

func TestRegistryAddOverwrites(t *testing.T) {
	r := NewToolRegistry()
	first := echoTool("dup")
	second := echoTool("dup")

	if err := r.Add(first); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(second); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, ok := r.Get("dup")
	if !ok {
		t.Fatalf("expected tool")
	}
	if got != Tool(second) {
		t.Fatalf("expected the most recently added handle")
	}
	if want, got := 1, r.Len(); want != got {
		t.Fatalf("len: want %d got %d", want, got)
	}
}

func TestRegistryHasAnyAndRemove(t *testing.T) {
	r := NewPromptRegistry()
	if r.HasAny() {
		t.Fatalf("empty registry reports HasAny")
	}
	_ = r.Add(NewFuncPrompt("p", "", nil, nil))
	if !r.HasAny() {
		t.Fatalf("expected HasAny after Add")
	}
	if !r.Remove("p") {
		t.Fatalf("expected Remove to report true")
	}
	if r.HasAny() {
		t.Fatalf("expected empty registry after Remove")
	}
	if r.Remove("p") {
		t.Fatalf("second Remove should report false")
	}
}

func TestRegistrySignalsChanges(t *testing.T) {
	r := NewToolRegistry()
	ch := r.Subscriber()

	_ = r.Add(echoTool("a"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected change signal")
	}

	r.Close()
	select {
	case _, ok := <-ch:
		if ok {
			// drain a buffered signal, then expect closure
			if _, ok := <-ch; ok {
				t.Fatalf("expected closed channel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("expected closed channel")
	}
}

func TestRegistryConcurrentListAndAdd(t *testing.T) {
	r := NewToolRegistry()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = r.Add(echoTool(string(rune('a' + i%26))))
		}
	}()
	for i := 0; i < 200; i++ {
		list := r.List()
		for j := 1; j < len(list); j++ {
			if list[j-1].Name() >= list[j].Name() {
				t.Fatalf("list not sorted: %q before %q", list[j-1].Name(), list[j].Name())
			}
		}
	}
	<-done
}
