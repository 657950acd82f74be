// Package streamio implements the length-prefixed, typed read/write
// primitives that every higher layer (serialize, merkleio, sync2) frames its
// records with. All multi-byte integers are big-endian; length prefixes are
// validated against a caller-supplied bound before any allocation happens.
package streamio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hashgraph/merkleruntime/internal/merkleerr"
)

// NullArrayLength is the i32 length prefix that denotes a null collection.
const NullArrayLength int32 = -1

// NullInstantEpochSecond marks a null timestamp.
const NullInstantEpochSecond int64 = math.MinInt64

// Writer wraps an io.Writer with the framed primitive writers.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for framed writes.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) writeInt32(v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.w.Write(buf[:])
	return err
}

func (w *Writer) writeInt64(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.w.Write(buf[:])
	return err
}

func (w *Writer) writeBool(v bool) error {
	var b [1]byte
	if v {
		b[0] = 1
	}
	_, err := w.w.Write(b[:])
	return err
}

func (w *Writer) writeFloat64(v float64) error {
	return w.writeInt64(int64(math.Float64bits(v)))
}

func (w *Writer) writeFloat32(v float32) error {
	return w.writeInt32(int32(math.Float32bits(v)))
}

// WriteByteArray writes a byte slice as an i32 length (−1 for nil) followed
// by the raw bytes, optionally preceded by a checksum equal to 101−length.
func (w *Writer) WriteByteArray(data []byte, withChecksum bool) error {
	if data == nil {
		if withChecksum {
			if err := w.writeInt32(101 - NullArrayLength); err != nil {
				return err
			}
		}
		return w.writeInt32(NullArrayLength)
	}
	if withChecksum {
		if err := w.writeInt32(int32(101 - len(data))); err != nil {
			return err
		}
	}
	if err := w.writeInt32(int32(len(data))); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

// WriteIntList writes a []int32, nil encoding as NullArrayLength.
func (w *Writer) WriteIntList(vals []int32) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.writeInt32(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteLongList writes a []int64, nil encoding as NullArrayLength.
func (w *Writer) WriteLongList(vals []int64) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.writeInt64(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteBoolList writes a []bool, nil encoding as NullArrayLength.
func (w *Writer) WriteBoolList(vals []bool) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.writeBool(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteFloatList writes a []float32, nil encoding as NullArrayLength.
func (w *Writer) WriteFloatList(vals []float32) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.writeFloat32(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteDoubleList writes a []float64, nil encoding as NullArrayLength.
func (w *Writer) WriteDoubleList(vals []float64) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.writeFloat64(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteStringList writes a []string, nil encoding as NullArrayLength. Each
// string is framed as a normalised-string byte array.
func (w *Writer) WriteStringList(vals []string) error {
	if vals == nil {
		return w.writeInt32(NullArrayLength)
	}
	if err := w.writeInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := w.WriteNormalisedString(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteInstant writes an i64 epoch-second (NullInstantEpochSecond for a null
// instant) followed by an i64 nanosecond offset in [0, 999_999_999].
func (w *Writer) WriteInstant(t time.Time, isNull bool) error {
	if isNull {
		if err := w.writeInt64(NullInstantEpochSecond); err != nil {
			return err
		}
		return w.writeInt64(0)
	}
	if err := w.writeInt64(t.Unix()); err != nil {
		return err
	}
	return w.writeInt64(int64(t.Nanosecond()))
}

// WriteNormalisedString writes s (expected already in NFC form on the
// encode side — normalisation is only required on decode) as a UTF-8 byte
// array.
func (w *Writer) WriteNormalisedString(s string) error {
	return w.WriteByteArray([]byte(s), false)
}

// WriteMarker writes a raw i32 marker value, used to validate stream
// position at well-known checkpoints.
func (w *Writer) WriteMarker(v int32) error {
	return w.writeInt32(v)
}

// WriteMarker64 writes a raw i64 marker value.
func (w *Writer) WriteMarker64(v int64) error {
	return w.writeInt64(v)
}

// Reader wraps an io.Reader with the framed primitive readers.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for framed reads.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) readInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read int32: %w", errBadIO(err))
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func (r *Reader) readInt64() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read int64: %w", errBadIO(err))
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (r *Reader) readBool() (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return false, fmt.Errorf("read bool: %w", errBadIO(err))
	}
	return buf[0] != 0, nil
}

func (r *Reader) readFloat32() (float32, error) {
	v, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (r *Reader) readFloat64() (float64, error) {
	v, err := r.readInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func errBadIO(cause error) error {
	return fmt.Errorf("%w: %v", merkleerr.ErrBadIO, cause)
}

// ReadByteArray reads an optional checksum, an i32 length (validated
// against maxLen before any allocation), then the raw bytes. A length of
// NullArrayLength yields (nil, nil).
func ReadByteArray(r *Reader, maxLen int, withChecksum bool) ([]byte, error) {
	var checksum int32
	var err error
	if withChecksum {
		checksum, err = r.readInt32()
		if err != nil {
			return nil, err
		}
	}

	length, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if length == NullArrayLength {
		if withChecksum && checksum != 101-NullArrayLength {
			return nil, fmt.Errorf("%w: checksum mismatch for null array", merkleerr.ErrBadIO)
		}
		return nil, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative byte array length %d", merkleerr.ErrBadIO, length)
	}
	if int(length) > maxLen {
		return nil, fmt.Errorf("%w: byte array length %d exceeds max %d", merkleerr.ErrBadIO, length, maxLen)
	}
	if withChecksum && checksum != 101-length {
		return nil, fmt.Errorf("%w: checksum mismatch", merkleerr.ErrBadIO)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("read byte array body: %w", errBadIO(err))
	}
	return data, nil
}

func readCount(r *Reader, maxLen int) (int32, bool, error) {
	n, err := r.readInt32()
	if err != nil {
		return 0, false, err
	}
	if n == NullArrayLength {
		return 0, true, nil
	}
	if n < 0 {
		return 0, false, fmt.Errorf("%w: negative list length %d", merkleerr.ErrBadIO, n)
	}
	if int(n) > maxLen {
		return 0, false, fmt.Errorf("%w: list length %d exceeds max %d", merkleerr.ErrBadIO, n, maxLen)
	}
	return n, false, nil
}

// ReadIntList reads a []int32, nil on NullArrayLength.
func ReadIntList(r *Reader, maxLen int) ([]int32, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		if out[i], err = r.readInt32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadLongList reads a []int64, nil on NullArrayLength.
func ReadLongList(r *Reader, maxLen int) ([]int64, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		if out[i], err = r.readInt64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadBoolList reads a []bool, nil on NullArrayLength.
func ReadBoolList(r *Reader, maxLen int) ([]bool, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]bool, n)
	for i := range out {
		if out[i], err = r.readBool(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadFloatList reads a []float32, nil on NullArrayLength.
func ReadFloatList(r *Reader, maxLen int) ([]float32, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		if out[i], err = r.readFloat32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadDoubleList reads a []float64, nil on NullArrayLength.
func ReadDoubleList(r *Reader, maxLen int) ([]float64, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		if out[i], err = r.readFloat64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadStringList reads a []string, nil on NullArrayLength. maxStrLen bounds
// each individual string's byte length.
func ReadStringList(r *Reader, maxLen, maxStrLen int) ([]string, error) {
	n, isNull, err := readCount(r, maxLen)
	if err != nil || isNull {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = ReadNormalisedString(r, maxStrLen); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadInstant reads an i64 epoch-second (NullInstantEpochSecond ⇒ isNull)
// then an i64 nanosecond offset, validated to lie in [0, 999_999_999].
func ReadInstant(r *Reader) (t time.Time, isNull bool, err error) {
	sec, err := r.readInt64()
	if err != nil {
		return time.Time{}, false, err
	}
	nanos, err := r.readInt64()
	if err != nil {
		return time.Time{}, false, err
	}
	if sec == NullInstantEpochSecond {
		return time.Time{}, true, nil
	}
	if nanos < 0 || nanos > 999_999_999 {
		return time.Time{}, false, fmt.Errorf("%w: instant nanos %d out of range", merkleerr.ErrBadIO, nanos)
	}
	return time.Unix(sec, nanos).UTC(), false, nil
}

// ReadNormalisedString reads a UTF-8 byte array and applies NFD→NFC
// normalisation, as required so two byte-distinct-but-canonically-equal
// encodings of the same string decode identically.
func ReadNormalisedString(r *Reader, maxLen int) (string, error) {
	raw, err := ReadByteArray(r, maxLen, false)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid utf-8 string", merkleerr.ErrBadIO)
	}
	return string(norm.NFC.Bytes(raw)), nil
}

// ReadMarker reads a raw i32 and requires it equal expected.
func ReadMarker(r *Reader, name string, expected int32) error {
	got, err := r.readInt32()
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: marker %q expected %d, got %d",
			merkleerr.ErrInvalidStreamPosition, name, expected, got)
	}
	return nil
}

// ReadMarker64 reads a raw i64 and requires it equal expected.
func ReadMarker64(r *Reader, name string, expected int64) error {
	got, err := r.readInt64()
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: marker %q expected %d, got %d",
			merkleerr.ErrInvalidStreamPosition, name, expected, got)
	}
	return nil
}

// ReadInt32 exposes the raw big-endian i32 reader for callers (serialize,
// merkleio) that frame fields directly rather than through a list/array.
func (r *Reader) ReadInt32() (int32, error) { return r.readInt32() }

// ReadInt64 exposes the raw big-endian i64 reader.
func (r *Reader) ReadInt64() (int64, error) { return r.readInt64() }

// WriteInt32 exposes the raw big-endian i32 writer.
func (w *Writer) WriteInt32(v int32) error { return w.writeInt32(v) }

// ReadBool exposes the raw single-byte bool reader.
func (r *Reader) ReadBool() (bool, error) { return r.readBool() }

// WriteBool exposes the raw single-byte bool writer.
func (w *Writer) WriteBool(v bool) error { return w.writeBool(v) }

// WriteInt64 exposes the raw big-endian i64 writer.
func (w *Writer) WriteInt64(v int64) error { return w.writeInt64(v) }

// WriteRaw writes data with no length prefix, for fixed-size fields (node
// hashes, content-address locators) whose size is already known to the
// reader from context.
func (w *Writer) WriteRaw(data []byte) error {
	_, err := w.w.Write(data)
	return err
}

// ReadRaw fills buf with no length prefix, the reader counterpart of
// WriteRaw.
func ReadRaw(r *Reader, buf []byte) error {
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return fmt.Errorf("read raw: %w", errBadIO(err))
	}
	return nil
}
