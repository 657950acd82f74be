package vmap

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/store"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// BoltFlushTarget persists flushed copies through internal/store's shared,
// refcounted bbolt connection, compressing each serialized tree with zstd
// before writing it. Grounded on store.Manager/SharedDB (adapted here:
// BucketFlushedCopies replaces the teacher's multi-bucket key/value mapping
// tables) and on pack.CompressAlgo's zstd usage (pack.go) for the
// compression idiom — this is the concrete home for the CompressZstd
// pathway in the generation-flush component of the pipeline.
type BoltFlushTarget struct {
	sdb      *store.SharedDB
	sink     merkleio.ExternalSink
	protocol int32
	encoder  *zstd.Encoder
}

// NewBoltFlushTarget obtains a shared bbolt connection rooted at dataDir
// and prepares a reusable zstd encoder. sink may be nil if no registered
// leaf class is external.
func NewBoltFlushTarget(dataDir string, protocolVersion int32, sink merkleio.ExternalSink) (*BoltFlushTarget, error) {
	sdb, err := store.GetSharedDB(dataDir)
	if err != nil {
		return nil, fmt.Errorf("vmap: open flush database: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("vmap: init zstd encoder: %w", err)
	}
	return &BoltFlushTarget{sdb: sdb, sink: sink, protocol: protocolVersion, encoder: enc}, nil
}

// FlushCopy implements FlushTarget: it serializes root (with hashes, since
// the copy has already been hashed by the time the pipeline calls this),
// zstd-compresses the framed bytes, and stores them under seq.
func (t *BoltFlushTarget) FlushCopy(root merkle.Node, seq uint64) error {
	var buf bytes.Buffer
	w := streamio.NewWriter(&buf)
	opts := merkleio.Options{WriteHashes: true, ExternalSerialization: t.sink != nil}
	if err := merkleio.Serialize(w, root, t.protocol, opts, t.sink); err != nil {
		return fmt.Errorf("vmap: serialize copy %d: %w", seq, err)
	}

	compressed := t.encoder.EncodeAll(buf.Bytes(), nil)
	return t.sdb.PutFlushedCopy(seq, compressed)
}

// Close releases the shared database reference and the zstd encoder.
func (t *BoltFlushTarget) Close() error {
	t.encoder.Close()
	return t.sdb.Close()
}
