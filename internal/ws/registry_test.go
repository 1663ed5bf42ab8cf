package ws

import "testing"

func TestRegistryAddAndRemove(t *testing.T) {
	registry := NewRegistry()
	session := &Session{roomID: "r1", done: make(chan struct{})}

	registry.Add(session)
	if registry.Count("r1") != 1 {
		t.Fatalf("expected session to be registered")
	}

	registry.Remove(session)
	if registry.Count("r1") != 0 {
		t.Fatalf("expected session to be removed")
	}
	if len(registry.rooms) != 0 {
		t.Fatalf("expected empty room to be dropped")
	}
}

func TestRegistryRemoveUnknownSession(t *testing.T) {
	registry := NewRegistry()
	known := &Session{roomID: "r1", done: make(chan struct{})}
	unknown := &Session{roomID: "r1", done: make(chan struct{})}

	registry.Add(known)
	registry.Remove(unknown)
	if registry.Count("r1") != 1 {
		t.Fatalf("expected known session to survive")
	}
}

func TestRegistryCountsPerRoom(t *testing.T) {
	registry := NewRegistry()
	registry.Add(&Session{roomID: "r1", done: make(chan struct{})})
	registry.Add(&Session{roomID: "r1", done: make(chan struct{})})
	registry.Add(&Session{roomID: "r2", done: make(chan struct{})})

	if registry.Count("r1") != 2 {
		t.Fatalf("expected two sessions in r1")
	}
	if registry.Count("r2") != 1 {
		t.Fatalf("expected one session in r2")
	}
	if registry.Count("empty") != 0 {
		t.Fatalf("expected zero sessions in unknown room")
	}
}
