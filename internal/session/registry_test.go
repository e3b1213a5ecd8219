package session

import (
	"testing"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if got := r.Len(); got != 0 {
		t.Errorf("new registry Len() = %d, want 0", got)
	}
	if got := len(r.All()); got != 0 {
		t.Errorf("new registry has %d sessions, want 0", got)
	}
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry()
	s, ok := r.Get(42)
	if ok {
		t.Error("Get for missing id returned ok=true")
	}
	if s != (Session{}) {
		t.Errorf("Get for missing id returned %+v, want zero value", s)
	}
}

func TestAddAndGet(t *testing.T) {
	r := NewRegistry()
	r.Add(Session{ID: 1, Addr: "127.0.0.1:50000"})

	s, ok := r.Get(1)
	if !ok {
		t.Fatal("Get returned ok=false after Add")
	}
	if s.Addr != "127.0.0.1:50000" {
		t.Errorf("Addr = %q, want %q", s.Addr, "127.0.0.1:50000")
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestAddReplacesInPlace(t *testing.T) {
	r := NewRegistry()
	r.Add(Session{ID: 1, Addr: "a"})
	r.Add(Session{ID: 2, Addr: "b"})
	r.Add(Session{ID: 1, Addr: "c"})

	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	all := r.All()
	if all[0].ID != 1 || all[0].Addr != "c" {
		t.Errorf("all[0] = %+v, want id 1 addr c", all[0])
	}
	if all[1].ID != 2 {
		t.Errorf("all[1].ID = %d, want 2", all[1].ID)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(Session{ID: 1, Addr: "a"})
	r.Add(Session{ID: 2, Addr: "b"})

	s, ok := r.Remove(1)
	if !ok {
		t.Fatal("Remove returned ok=false for present id")
	}
	if s.Addr != "a" {
		t.Errorf("removed Addr = %q, want %q", s.Addr, "a")
	}
	if _, ok := r.Get(1); ok {
		t.Error("id 1 still present after Remove")
	}
	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	if _, ok := r.Remove(1); ok {
		t.Error("second Remove returned ok=true")
	}
	if _, ok := r.Remove(99); ok {
		t.Error("Remove of unknown id returned ok=true")
	}
}

func TestInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ConnID{5, 3, 9, 1} {
		r.Add(Session{ID: id})
	}
	r.Remove(9)
	r.Add(Session{ID: 7})

	want := []ConnID{5, 3, 1, 7}
	var got []ConnID
	r.Each(func(s Session) {
		got = append(got, s.ID)
	})

	if len(got) != len(want) {
		t.Fatalf("Each visited %d sessions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestAllReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add(Session{ID: 1, Addr: "original"})

	all := r.All()
	all[0].Addr = "mutated"

	s, _ := r.Get(1)
	if s.Addr != "original" {
		t.Error("All did not return a copy; mutation leaked into registry")
	}
}
