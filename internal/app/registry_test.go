package app

import (
	"errors"
	"testing"

	"github.com/xamepage/callkit/internal/core"
)

func TestRegistryReleaseAllContinuesPastFailures(t *testing.T) {
	r := NewRegistry()
	good := newFakeStream("good", core.Constraints{Audio: true})
	conn := &fakeConn{}

	r.TrackStream(good)
	r.TrackConnection(conn)
	r.track("stream", func() error { return errors.New("device busy") })
	r.track("stream", func() error { panic("double release") })

	r.ReleaseAll()

	if good.stopCount() != 1 {
		t.Fatalf("stream stopped %d times, want 1", good.stopCount())
	}
	if conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times, want 1", conn.closeCount())
	}
	if r.Len() != 0 {
		t.Fatalf("%d resources still tracked after sweep", r.Len())
	}
	// A second sweep finds nothing and releases nothing twice.
	r.ReleaseAll()
	if good.stopCount() != 1 {
		t.Fatalf("stream stopped %d times after second sweep", good.stopCount())
	}
}

func TestRegistryForgetDropsWithoutReleasing(t *testing.T) {
	r := NewRegistry()
	s := newFakeStream("s", core.Constraints{Audio: true})
	id := r.TrackStream(s)

	r.Forget(id)
	if r.Len() != 0 {
		t.Fatalf("len = %d, want 0", r.Len())
	}
	r.ReleaseAll()
	if s.stopCount() != 0 {
		t.Fatal("forgotten resource was released")
	}
}

func TestRegistryReleaseSingle(t *testing.T) {
	r := NewRegistry()
	a := newFakeStream("a", core.Constraints{Audio: true})
	b := newFakeStream("b", core.Constraints{Audio: true})
	idA := r.TrackStream(a)
	r.TrackStream(b)

	r.Release(idA)
	if a.stopCount() != 1 || b.stopCount() != 0 {
		t.Fatalf("stops = %d/%d, want 1/0", a.stopCount(), b.stopCount())
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	// Releasing an unknown or already-released id is a no-op.
	r.Release(idA)
	r.Release("nope")
	if a.stopCount() != 1 {
		t.Fatalf("stream released twice")
	}
}
