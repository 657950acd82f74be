package constructable

import (
	"errors"
	"testing"

	"github.com/hashgraph/merkleruntime/internal/merkleerr"
)

type stubConstructable struct{ id int64 }

func (s *stubConstructable) ClassID() int64 { return s.id }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(0x11, func() Constructable { return &stubConstructable{id: 0x11} })

	got, err := r.New(0x11)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got.ClassID() != 0x11 {
		t.Fatalf("unexpected class id: %#x", got.ClassID())
	}
}

func TestLookupMissingClassIsClassNotFound(t *testing.T) {
	r := New()
	_, err := r.New(0x99)
	if !errors.Is(err, merkleerr.ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound, got %v", err)
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := New()
	r.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering after freeze")
		}
	}()
	r.Register(0x22, func() Constructable { return &stubConstructable{id: 0x22} })
}

func TestRegisterReservedNullClassIDPanics(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering NullClassID")
		}
	}()
	r.Register(NullClassID, func() Constructable { return &stubConstructable{} })
}

func TestLookupAfterFreeze(t *testing.T) {
	r := New()
	r.Register(0x33, func() Constructable { return &stubConstructable{id: 0x33} })
	r.Freeze()

	got, err := r.New(0x33)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got.ClassID() != 0x33 {
		t.Fatalf("unexpected class id: %#x", got.ClassID())
	}
}
