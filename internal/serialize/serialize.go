// Package serialize implements the versioned, class-ID-tagged self-
// serializable encoding described in spec §4.3: every polymorphic value is
// preceded by its class ID and version, with a null sentinel pair standing
// in for a nil value, and an optional compact encoding for homogeneous
// lists of serializables.
package serialize

import (
	"fmt"

	"github.com/hashgraph/merkleruntime/internal/constructable"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// Serializable is a self-serializable value: it knows its own class ID,
// current version, and the oldest version it can still decode, and encodes/
// decodes only its payload (the class-ID/version framing is handled by
// Encode/Decode below).
type Serializable interface {
	constructable.Constructable
	Version() int32
	MinimumSupportedVersion() int32
	WriteTo(w *streamio.Writer) error
	ReadFrom(r *streamio.Reader, version int32) error
}

// Encode writes v preceded by its class ID and version. If v is nil and
// readClassID is true, it writes the null class-ID/version pair instead. If
// readClassID is false the class-ID field is omitted (used when the class is
// already fixed by context) and v must be non-nil.
func Encode(w *streamio.Writer, v Serializable, readClassID bool) error {
	if v == nil {
		if !readClassID {
			return fmt.Errorf("%w: cannot omit class id for a nil serializable", merkleerr.ErrMerkleSerialization)
		}
		if err := w.WriteInt64(constructable.NullClassID); err != nil {
			return err
		}
		return w.WriteInt32(constructable.NullVersion)
	}

	if readClassID {
		if err := w.WriteInt64(v.ClassID()); err != nil {
			return err
		}
		if err := w.WriteInt32(v.Version()); err != nil {
			return err
		}
	}
	return v.WriteTo(w)
}

// Decode reads a value framed by Encode. When readClassID is false the
// caller must supply the expected class ID and construct the target value
// itself before calling Decode via DecodeInto; Decode is for the
// class-ID-bearing form only and uses registry to construct the instance.
// A null class-ID/version pair yields (nil, nil).
func Decode(r *streamio.Reader, registry *constructable.Registry) (Serializable, error) {
	classID, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	version, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if classID == constructable.NullClassID {
		return nil, nil
	}

	instance, err := registry.New(classID)
	if err != nil {
		return nil, err
	}
	target, ok := instance.(Serializable)
	if !ok {
		return nil, fmt.Errorf("%w: class id %#x does not implement Serializable", merkleerr.ErrMerkleSerialization, classID)
	}

	if version < target.MinimumSupportedVersion() || version > target.Version() {
		return nil, &merkleerr.IllegalVersionError{
			ClassID: classID,
			Got:     version,
			Min:     target.MinimumSupportedVersion(),
			Max:     target.Version(),
		}
	}

	if err := target.ReadFrom(r, version); err != nil {
		return nil, err
	}
	return target, nil
}

// DecodeInto reads the payload for a value whose class and version are
// already known by context (readClassID=false on the encode side) directly
// into target, after validating target's own version range against the
// version given by the caller (typically a fixed constant for the context).
func DecodeInto(r *streamio.Reader, target Serializable, version int32) error {
	if version < target.MinimumSupportedVersion() || version > target.Version() {
		return &merkleerr.IllegalVersionError{
			ClassID: target.ClassID(),
			Got:     version,
			Min:     target.MinimumSupportedVersion(),
			Max:     target.Version(),
		}
	}
	return target.ReadFrom(r, version)
}

// EncodeList writes a list of serializables: an i32 count (NullArrayLength
// for a nil list), a bool "all entries share a class", then either a full
// class-ID+version+payload block per entry, or — when every non-nil entry
// shares the same class — a per-entry null flag followed by a single
// class-ID+version header before the first non-nil entry and bare payloads
// thereafter.
func EncodeList(w *streamio.Writer, vals []Serializable) error {
	if vals == nil {
		return w.WriteInt32(streamio.NullArrayLength)
	}
	if err := w.WriteInt32(int32(len(vals))); err != nil {
		return err
	}

	shared, sharedClass := sharedClassID(vals)
	if err := w.WriteBool(shared); err != nil {
		return err
	}

	if !shared {
		for _, v := range vals {
			if err := Encode(w, v, true); err != nil {
				return err
			}
		}
		return nil
	}

	headerWritten := false
	for _, v := range vals {
		isNull := v == nil
		if err := w.WriteBool(isNull); err != nil {
			return err
		}
		if isNull {
			continue
		}
		if !headerWritten {
			if err := w.WriteInt64(sharedClass); err != nil {
				return err
			}
			if err := w.WriteInt32(v.Version()); err != nil {
				return err
			}
			headerWritten = true
		}
		if err := v.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeList reads a list written by EncodeList.
func DecodeList(r *streamio.Reader, registry *constructable.Registry, maxLen int) ([]Serializable, error) {
	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if count == streamio.NullArrayLength {
		return nil, nil
	}
	if count < 0 || int(count) > maxLen {
		return nil, fmt.Errorf("%w: serializable list length %d exceeds max %d", merkleerr.ErrBadIO, count, maxLen)
	}

	shared, err := r.ReadBool()
	if err != nil {
		return nil, err
	}

	out := make([]Serializable, count)
	if !shared {
		for i := range out {
			v, err := Decode(r, registry)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	var classID int64
	var version int32
	headerRead := false
	for i := range out {
		isNull, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		if isNull {
			continue
		}
		if !headerRead {
			classID, err = r.ReadInt64()
			if err != nil {
				return nil, err
			}
			version, err = r.ReadInt32()
			if err != nil {
				return nil, err
			}
			headerRead = true
		}

		instance, err := registry.New(classID)
		if err != nil {
			return nil, err
		}
		target, ok := instance.(Serializable)
		if !ok {
			return nil, fmt.Errorf("%w: class id %#x does not implement Serializable", merkleerr.ErrMerkleSerialization, classID)
		}
		if err := DecodeInto(r, target, version); err != nil {
			return nil, err
		}
		out[i] = target
	}
	return out, nil
}

func sharedClassID(vals []Serializable) (shared bool, classID int64) {
	first := true
	for _, v := range vals {
		if v == nil {
			continue
		}
		if first {
			classID = v.ClassID()
			first = false
			continue
		}
		if v.ClassID() != classID {
			return false, 0
		}
	}
	if first {
		// No non-nil entries: there is no class to share, so each entry is
		// written through the full class-ID/null-marker path.
		return false, 0
	}
	return true, classID
}

