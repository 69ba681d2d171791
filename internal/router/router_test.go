package router

import "testing"

func TestAddRouteThenLookup(t *testing.T) {
	r := New()
	if err := r.AddRoute(8765, "/desk", "desk-capture"); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	name, ok := r.Lookup(8765, "/desk")
	if !ok || name != "desk-capture" {
		t.Fatalf("expected a match for /desk, got %q, %v", name, ok)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/Desk", "desk-capture")

	name, ok := r.Lookup(8765, "/DESK")
	if !ok || name != "desk-capture" {
		t.Fatalf("expected a case-insensitive match, got %q, %v", name, ok)
	}
}

func TestAddRouteConflictOnDifferentInstance(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/desk", "desk-capture")

	err := r.AddRoute(8765, "/desk", "other-instance")
	if err == nil {
		t.Fatalf("expected a route conflict error")
	}
}

func TestAddRouteIsIdempotentForSameInstance(t *testing.T) {
	r := New()
	if err := r.AddRoute(8765, "/desk", "desk-capture"); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := r.AddRoute(8765, "/desk", "desk-capture"); err != nil {
		t.Fatalf("expected re-adding the same route for the same instance to be a no-op, got %v", err)
	}
}

func TestRemoveRoute(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/desk", "desk-capture")
	r.RemoveRoute(8765, "/desk")

	if _, ok := r.Lookup(8765, "/desk"); ok {
		t.Fatalf("expected route to be removed")
	}
}

func TestPathsForPortReturnsOriginalCase(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/Desk", "desk-capture")
	_ = r.AddRoute(8765, "/Window", "window-capture")

	paths := r.PathsForPort(8765)
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %v", len(paths), paths)
	}
	found := map[string]bool{}
	for _, p := range paths {
		found[p] = true
	}
	if !found["/Desk"] || !found["/Window"] {
		t.Fatalf("expected original-case paths preserved, got %v", paths)
	}
}

func TestClearPortRemovesAllRoutesOnPort(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/desk", "desk-capture")
	_ = r.AddRoute(8765, "/window", "window-capture")
	_ = r.AddRoute(8766, "/other", "other-capture")

	r.ClearPort(8765)

	if _, ok := r.Lookup(8765, "/desk"); ok {
		t.Fatalf("expected /desk route removed")
	}
	if _, ok := r.Lookup(8766, "/other"); !ok {
		t.Fatalf("expected route on a different port to survive ClearPort")
	}
}

func TestConflictExcludesNamedInstance(t *testing.T) {
	r := New()
	_ = r.AddRoute(8765, "/desk", "desk-capture")

	if r.Conflict(8765, "/desk", "desk-capture") {
		t.Fatalf("expected no conflict when excluding the owning instance")
	}
	if !r.Conflict(8765, "/desk", "other-instance") {
		t.Fatalf("expected a conflict for a different instance")
	}
}
