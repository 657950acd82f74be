package merkleio

import "github.com/hashgraph/merkleruntime/internal/streamio"

// Options carries the per-serialization flags read and written alongside
// the protocol version at the head of a whole-tree stream (spec §4.4:
// "options : SerializableOptions // carries flags: external-serialization,
// write-hashes").
type Options struct {
	// WriteHashes, when set, appends each node's 48-byte hash after its own
	// record (after its children's records, for an internal node).
	WriteHashes bool

	// ExternalSerialization, when set, directs leaf classes implementing
	// ExternalLeafPayload to store their bulk content out of band, keyed by
	// content hash, rather than framing it inline.
	ExternalSerialization bool
}

func writeOptions(w *streamio.Writer, opts Options) error {
	if err := w.WriteBool(opts.WriteHashes); err != nil {
		return err
	}
	return w.WriteBool(opts.ExternalSerialization)
}

func readOptions(r *streamio.Reader) (Options, error) {
	writeHashes, err := r.ReadBool()
	if err != nil {
		return Options{}, err
	}
	external, err := r.ReadBool()
	if err != nil {
		return Options{}, err
	}
	return Options{WriteHashes: writeHashes, ExternalSerialization: external}, nil
}
