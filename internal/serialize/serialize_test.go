package serialize

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hashgraph/merkleruntime/internal/constructable"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

const testClassID int64 = 0x11

type intValue struct {
	version int32
	n       int32
}

func (v *intValue) ClassID() int64                  { return testClassID }
func (v *intValue) Version() int32                  { return 3 }
func (v *intValue) MinimumSupportedVersion() int32   { return 2 }
func (v *intValue) WriteTo(w *streamio.Writer) error { return w.WriteInt32(v.n) }
func (v *intValue) ReadFrom(r *streamio.Reader, version int32) error {
	v.version = version
	n, err := r.ReadInt32()
	if err != nil {
		return err
	}
	v.n = n
	return nil
}

func newRegistry() *constructable.Registry {
	r := constructable.New()
	r.Register(testClassID, func() constructable.Constructable { return &intValue{} })
	return r
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	reg := newRegistry()
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)

	orig := &intValue{n: 7}
	if err := Encode(w, orig, true); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(streamio.NewReader(&buf), reg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	iv := got.(*intValue)
	if iv.n != 7 {
		t.Fatalf("roundtrip mismatch: want 7, got %d", iv.n)
	}
}

func TestEncodeNilYieldsNullOnDecode(t *testing.T) {
	reg := newRegistry()
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)

	if err := Encode(w, nil, true); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(streamio.NewReader(&buf), reg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

// S2 from spec §8: version outside [minimum_supported_version, version] must
// raise IllegalVersion with both the offending version and the range.
func TestVersionOutsideRangeIsIllegalVersion(t *testing.T) {
	reg := newRegistry()
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)

	orig := &intValue{n: 9}
	if err := Encode(w, orig, true); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Tamper with the version field in-stream: class_id(i64) | version(i32) | payload.
	raw := buf.Bytes()
	raw[11] = 1 // low byte of the big-endian i32 version, now 1 instead of 3

	_, err := Decode(streamio.NewReader(bytes.NewReader(raw)), reg)
	var verErr *merkleerr.IllegalVersionError
	if !errors.As(err, &verErr) {
		t.Fatalf("expected IllegalVersionError, got %v", err)
	}
	if verErr.Got != 1 || verErr.Min != 2 || verErr.Max != 3 {
		t.Fatalf("unexpected version error fields: %+v", verErr)
	}
}

// S1 from spec §8: a list [null] with class IDs included encodes as
// length=1, shared-class flag=false, one entry whose class-ID field is
// NullClassID, and decodes back to [nil].
func TestEncodeListWithSingleNullEntry(t *testing.T) {
	reg := newRegistry()
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)

	if err := EncodeList(w, []Serializable{nil}); err != nil {
		t.Fatalf("encode list: %v", err)
	}

	raw := buf.Bytes()
	r := streamio.NewReader(bytes.NewReader(raw))
	count, _ := r.ReadInt32()
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	shared, _ := r.ReadBool()
	if shared {
		t.Fatal("expected shared-class flag false for a single nil entry")
	}
	classID, _ := r.ReadInt64()
	if classID != constructable.NullClassID {
		t.Fatalf("expected NullClassID, got %#x", classID)
	}

	got, err := DecodeList(streamio.NewReader(bytes.NewReader(raw)), reg, 10)
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("expected [nil], got %v", got)
	}
}

func TestEncodeListSharedClassOptimization(t *testing.T) {
	reg := newRegistry()
	vals := []Serializable{
		&intValue{n: 1},
		nil,
		&intValue{n: 2},
	}

	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)
	if err := EncodeList(w, vals); err != nil {
		t.Fatalf("encode list: %v", err)
	}

	got, err := DecodeList(streamio.NewReader(&buf), reg, 10)
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].(*intValue).n != 1 || got[1] != nil || got[2].(*intValue).n != 2 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestDecodeListNullYieldsNilSlice(t *testing.T) {
	reg := newRegistry()
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)
	if err := EncodeList(w, nil); err != nil {
		t.Fatalf("encode list: %v", err)
	}
	got, err := DecodeList(streamio.NewReader(&buf), reg, 10)
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
