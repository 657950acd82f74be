// Package streamext provides io.Reader/io.Writer wrappers layered under
// internal/streamio's framed primitives: a context-deadline-enforcing
// reader, byte-counting wrappers, and a hashing wrapper that accumulates a
// blake3 digest over everything that passes through it (spec §4.1/§5).
// Grounded on internal/cas/file_cas.go's streaming file I/O, generalized
// from "read a whole file, verify its hash" to composable wrappers usable
// over any io.Reader/io.Writer, including a network connection mid-stream.
package streamext

import (
	"context"
	"fmt"
	"io"
	"time"

	"lukechampine.com/blake3"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
)

// deadlineSetter is implemented by net.Conn and similar; a TimeoutReader
// applies a per-call deadline directly when the wrapped
// stream supports it, avoiding an extra pump goroutine.
type deadlineSetter interface {
	SetDeadline(time.Time) error
}

// TimeoutReader enforces ctx's deadline (or a per-Read timeout, whichever
// is sooner) on every Read call. If the wrapped reader is a net.Conn (or
// anything else implementing SetDeadline), the deadline is applied
// directly; otherwise each Read races against ctx.Done() in a helper
// goroutine.
type TimeoutReader struct {
	r       io.Reader
	ctx     context.Context
	timeout time.Duration
}

// NewTimeoutReader wraps r so every Read respects ctx's cancellation and,
// if timeout > 0, also fails a single Read that takes longer than timeout.
func NewTimeoutReader(ctx context.Context, r io.Reader, timeout time.Duration) *TimeoutReader {
	return &TimeoutReader{r: r, ctx: ctx, timeout: timeout}
}

func (t *TimeoutReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", merkleerr.ErrInterruptedDuringIO, err)
	}

	if ds, ok := t.r.(deadlineSetter); ok {
		deadline := time.Time{}
		if t.timeout > 0 {
			deadline = time.Now().Add(t.timeout)
		}
		if d, ok := t.ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
			deadline = d
		}
		if !deadline.IsZero() {
			if err := ds.SetDeadline(deadline); err != nil {
				return 0, err
			}
		}
		stop := context.AfterFunc(t.ctx, func() { _ = ds.SetDeadline(time.Now()) })
		n, err := t.r.Read(p)
		stop()
		if err != nil && t.ctx.Err() != nil {
			return n, fmt.Errorf("%w: %v", merkleerr.ErrInterruptedDuringIO, t.ctx.Err())
		}
		return n, err
	}

	return t.readWithGoroutine(p)
}

type readResult struct {
	n   int
	err error
}

func (t *TimeoutReader) readWithGoroutine(p []byte) (int, error) {
	ctx := t.ctx
	cancel := func() {}
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		n, err := t.r.Read(p)
		done <- readResult{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", merkleerr.ErrInterruptedDuringIO, ctx.Err())
	}
}

// CountingReader wraps an io.Reader, tallying the total bytes read.
type CountingReader struct {
	r     io.Reader
	count int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader { return &CountingReader{r: r} }

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += int64(n)
	return n, err
}

// Count returns the total bytes read so far.
func (c *CountingReader) Count() int64 { return c.count }

// CountingWriter wraps an io.Writer, tallying the total bytes written.
type CountingWriter struct {
	w     io.Writer
	count int64
}

// NewCountingWriter wraps w.
func NewCountingWriter(w io.Writer) *CountingWriter { return &CountingWriter{w: w} }

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// Count returns the total bytes written so far.
func (c *CountingWriter) Count() int64 { return c.count }

// HashingReader wraps an io.Reader, accumulating a blake3 digest over every
// byte that passes through Read. Sum returns the digest in the same
// extendable-output width merkle node hashes use (spec §4.4's 48-byte
// digest), so a stream's running hash can be compared directly against a
// merkle.Hash without a second pass over the data.
type HashingReader struct {
	r    io.Reader
	hash *blake3.Hasher
}

// NewHashingReader wraps r.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, hash: blake3.New(merkle.HashSize, nil)}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the running digest of everything read so far.
func (h *HashingReader) Sum() merkle.Hash {
	var out merkle.Hash
	copy(out[:], h.hash.Sum(nil))
	return out
}

// HashingWriter is the write-side counterpart of HashingReader.
type HashingWriter struct {
	w    io.Writer
	hash *blake3.Hasher
}

// NewHashingWriter wraps w.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, hash: blake3.New(merkle.HashSize, nil)}
}

func (h *HashingWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if n > 0 {
		h.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the running digest of everything written so far.
func (h *HashingWriter) Sum() merkle.Hash {
	var out merkle.Hash
	copy(out[:], h.hash.Sum(nil))
	return out
}
