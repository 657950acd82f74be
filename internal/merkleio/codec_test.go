package merkleio

import (
	"bytes"
	"testing"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

const (
	testInternalClassID int64 = 0xA
	testLeafClassID     int64 = 0xB
)

type intPayload struct {
	n int32
}

func (v *intPayload) ClassID() int64                  { return testLeafClassID }
func (v *intPayload) Version() int32                  { return 1 }
func (v *intPayload) MinimumSupportedVersion() int32   { return 1 }
func (v *intPayload) CanonicalBytes() ([]byte, error) {
	return []byte{byte(v.n >> 24), byte(v.n >> 16), byte(v.n >> 8), byte(v.n)}, nil
}
func (v *intPayload) WriteTo(w *streamio.Writer) error { return w.WriteInt32(v.n) }
func (v *intPayload) ReadFrom(r *streamio.Reader, version int32) error {
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	v.n = n
	return nil
}

func binaryChildCount(version int32) int { return 2 }

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterLeaf(testLeafClassID, func() LeafPayload { return &intPayload{} }, false, false)
	reg.RegisterInternal(testInternalClassID, binaryChildCount, binaryChildCount)
	return reg
}

func buildTestTree() *merkle.Internal {
	root := merkle.NewInternal(testInternalClassID, 1, binaryChildCount, binaryChildCount)
	left := merkle.NewLeaf(testLeafClassID, 1, &intPayload{n: 7}, false)
	right := merkle.NewLeaf(testLeafClassID, 1, &intPayload{n: 8}, false)
	root.SetChild(0, left)
	root.SetChild(1, right)
	return root
}

// S3 from spec §8: internal(class=0xA, children=[leaf(0xB,7), leaf(0xB,8)])
// serializes to exactly three node records and round-trips with hashes
// attached to every node.
func TestMerkleRoundTripWithHashes(t *testing.T) {
	root := buildTestTree()
	for _, n := range drainAll(merkle.PostOrder(root, merkle.Filter{})) {
		if _, ok := n.Hash(); !ok {
			t.Fatalf("expected hash to compute for node class %#x", n.ClassID())
		}
	}

	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)
	opts := Options{WriteHashes: true}
	if err := Serialize(w, root, 1, opts, nil); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	reg := newTestRegistry()
	got, protocolVersion, err := Deserialize(streamio.NewReader(&buf), reg, nil, 0)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if protocolVersion != 1 {
		t.Fatalf("expected protocol version 1, got %d", protocolVersion)
	}

	gotRoot, ok := got.(*merkle.Internal)
	if !ok {
		t.Fatalf("expected *merkle.Internal root, got %T", got)
	}
	if gotRoot.ChildCount() != 2 {
		t.Fatalf("expected 2 children, got %d", gotRoot.ChildCount())
	}

	wantHash, _ := root.Hash()
	gotHash, ok := gotRoot.CachedHash()
	if !ok || gotHash != wantHash {
		t.Fatalf("root hash mismatch: want %x got %x (ok=%v)", wantHash, gotHash, ok)
	}

	leftWant, _ := root.Child(0).Hash()
	leftGot, ok := gotRoot.Child(0).(*merkle.Leaf).CachedHash()
	if !ok || leftGot != leftWant {
		t.Fatalf("left child hash mismatch")
	}

	leftPayload := gotRoot.Child(0).(*merkle.Leaf).Value().(*intPayload)
	rightPayload := gotRoot.Child(1).(*merkle.Leaf).Value().(*intPayload)
	if leftPayload.n != 7 || rightPayload.n != 8 {
		t.Fatalf("unexpected payload values: %d, %d", leftPayload.n, rightPayload.n)
	}
}

func TestNullChildRoundTrip(t *testing.T) {
	root := merkle.NewInternal(testInternalClassID, 1, binaryChildCount, binaryChildCount)
	leaf := merkle.NewLeaf(testLeafClassID, 1, &intPayload{n: 3}, false)
	root.SetChild(0, leaf)
	root.SetChild(1, nil)

	var buf bytes.Buffer
	if err := Serialize(streamio.NewWriter(&buf), root, 1, Options{}, nil); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	reg := newTestRegistry()
	got, _, err := Deserialize(streamio.NewReader(&buf), reg, nil, 0)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	gotRoot := got.(*merkle.Internal)
	if gotRoot.Child(0) == nil {
		t.Fatal("expected child 0 to be present")
	}
	if gotRoot.Child(1) != nil {
		t.Fatal("expected child 1 to be nil")
	}
}

func TestNullRootRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Serialize(streamio.NewWriter(&buf), nil, 1, Options{}, nil); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	reg := newTestRegistry()
	got, _, err := Deserialize(streamio.NewReader(&buf), reg, nil, 0)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil root, got %v", got)
	}
}

func TestMaxNodesExceeded(t *testing.T) {
	root := buildTestTree()
	var buf bytes.Buffer
	if err := Serialize(streamio.NewWriter(&buf), root, 1, Options{}, nil); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	reg := newTestRegistry()
	_, _, err := Deserialize(streamio.NewReader(&buf), reg, nil, 2)
	if err == nil {
		t.Fatal("expected max_nodes error for a 3-node tree bounded at 2")
	}
}

func drainAll(it merkle.Iterator) []merkle.Node {
	var out []merkle.Node
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, n)
	}
	return out
}
