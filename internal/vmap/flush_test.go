package vmap

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// roundTripLeaf is a full merkleio.LeafPayload (unlike vmap_test.go's
// write-only intLeaf), needed here to deserialize a flushed copy back.
type roundTripLeaf struct{ n int32 }

func (v *roundTripLeaf) ClassID() int64 { return testLeafClassID }
func (v *roundTripLeaf) Version() int32 { return 1 }
func (v *roundTripLeaf) CanonicalBytes() ([]byte, error) {
	return []byte{byte(v.n >> 24), byte(v.n >> 16), byte(v.n >> 8), byte(v.n)}, nil
}
func (v *roundTripLeaf) MinimumSupportedVersion() int32        { return 1 }
func (v *roundTripLeaf) WriteTo(w *streamio.Writer) error      { return w.WriteInt32(v.n) }
func (v *roundTripLeaf) ReadFrom(r *streamio.Reader, _ int32) error {
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	v.n = n
	return nil
}

func roundTripRegistry() *merkleio.Registry {
	reg := merkleio.NewRegistry()
	reg.RegisterLeaf(testLeafClassID, func() merkleio.LeafPayload { return &roundTripLeaf{} }, false, false)
	reg.RegisterInternal(testInternalClassID, binaryChildCount, binaryChildCount)
	return reg
}

// TestBoltFlushTargetPersistsAndRoundTrips drives the actual flush path a
// Pipeline uses in production: hash a copy, persist it through
// BoltFlushTarget (bbolt + zstd), and read the same bytes back out,
// confirming the stored blob is both retrievable and a valid serialized
// tree rather than an opaque write-only sink.
func TestBoltFlushTargetPersistsAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	target, err := NewBoltFlushTarget(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewBoltFlushTarget: %v", err)
	}
	defer target.Close()

	root := merkle.NewInternal(testInternalClassID, 1, binaryChildCount, binaryChildCount)
	if err := root.SetChild(0, merkle.NewLeaf(testLeafClassID, 1, &roundTripLeaf{n: 11}, false)); err != nil {
		t.Fatalf("SetChild 0: %v", err)
	}
	if err := root.SetChild(1, merkle.NewLeaf(testLeafClassID, 1, &roundTripLeaf{n: 22}, false)); err != nil {
		t.Fatalf("SetChild 1: %v", err)
	}
	computeHash(root)

	const seq = 42
	if err := target.FlushCopy(root, seq); err != nil {
		t.Fatalf("FlushCopy: %v", err)
	}

	compressed, err := target.sdb.GetFlushedCopy(seq)
	if err != nil {
		t.Fatalf("GetFlushedCopy: %v", err)
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	got, protocolVersion, err := merkleio.Deserialize(streamio.NewReader(bytes.NewReader(raw)), roundTripRegistry(), nil, 64)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if protocolVersion != 1 {
		t.Fatalf("protocolVersion = %d, want 1", protocolVersion)
	}
	gotInternal, ok := got.(*merkle.Internal)
	if !ok {
		t.Fatalf("expected *merkle.Internal root, got %T", got)
	}
	wantHash, _ := root.Hash()
	gotHash, ok := gotInternal.Hash()
	if !ok || gotHash != wantHash {
		t.Fatalf("hash mismatch after round trip: want %x got %x (ok=%v)", wantHash, gotHash, ok)
	}
}

// TestBoltFlushTargetSharedAcrossInstances confirms store.GetSharedDB hands
// back the same underlying database for a second target opened against the
// same data directory (the refcounted-singleton contract BoltFlushTarget
// relies on to let several flush targets in one process share one bbolt
// file), and that data written through one is visible through the other.
func TestBoltFlushTargetSharedAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	a, err := NewBoltFlushTarget(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewBoltFlushTarget a: %v", err)
	}
	defer a.Close()

	b, err := NewBoltFlushTarget(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewBoltFlushTarget b: %v", err)
	}
	defer b.Close()

	root := merkle.NewInternal(testInternalClassID, 1, binaryChildCount, binaryChildCount)
	if err := root.SetChild(0, merkle.NewLeaf(testLeafClassID, 1, &roundTripLeaf{n: 1}, false)); err != nil {
		t.Fatalf("SetChild 0: %v", err)
	}
	if err := root.SetChild(1, merkle.NewLeaf(testLeafClassID, 1, &roundTripLeaf{n: 2}, false)); err != nil {
		t.Fatalf("SetChild 1: %v", err)
	}
	computeHash(root)
	if err := a.FlushCopy(root, 7); err != nil {
		t.Fatalf("FlushCopy via a: %v", err)
	}

	if _, err := b.sdb.GetFlushedCopy(7); err != nil {
		t.Fatalf("GetFlushedCopy via b: %v", err)
	}
}
