package merkleio

import (
	"fmt"

	"github.com/hashgraph/merkleruntime/internal/constructable"
	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// ExternalSink receives an external leaf's bulk bytes during Serialize,
// keyed by the content hash that the in-stream locator carries (spec
// glossary: "external serializable"). A nil sink is only valid when no
// leaf value in the tree implements ExternalLeafPayload or
// opts.ExternalSerialization is false.
type ExternalSink interface {
	Put(hash [32]byte, data []byte) error
}

// ExternalSource resolves an external leaf's bulk bytes during Deserialize.
type ExternalSource interface {
	Get(hash [32]byte) ([]byte, error)
}

// Serialize writes the whole tree rooted at root (spec §4.4): protocol
// version, options, a root-is-null flag, then node records in pre-order
// (parent before children). sink is consulted only for leaves whose value
// implements ExternalLeafPayload when opts.ExternalSerialization is true;
// it may be nil otherwise.
func Serialize(w *streamio.Writer, root merkle.Node, protocolVersion int32, opts Options, sink ExternalSink) error {
	if err := w.WriteInt32(protocolVersion); err != nil {
		return err
	}
	if err := writeOptions(w, opts); err != nil {
		return err
	}
	if err := w.WriteBool(root == nil); err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	return writeNode(w, root, opts, sink)
}

func writeNode(w *streamio.Writer, n merkle.Node, opts Options, sink ExternalSink) error {
	if err := w.WriteInt64(n.ClassID()); err != nil {
		return err
	}
	if err := w.WriteInt32(n.Version()); err != nil {
		return err
	}

	switch node := n.(type) {
	case *merkle.Leaf:
		if err := writeLeafPayload(w, node, opts, sink); err != nil {
			return err
		}
	case *merkle.Internal:
		count := node.ChildCount()
		if err := node.ValidateChildCount(count); err != nil {
			return err
		}
		if err := w.WriteInt32(int32(count)); err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			child := node.Child(i)
			if child == nil {
				if err := writeNullChild(w); err != nil {
					return err
				}
				continue
			}
			if err := writeNode(w, child, opts, sink); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unrecognised node type %T", merkleerr.ErrMerkleSerialization, n)
	}

	if opts.WriteHashes {
		h, ok := n.Hash()
		if !ok {
			return fmt.Errorf("%w: node class %#x has no computable hash; hash the tree post-order before serializing", merkleerr.ErrMerkleSerialization, n.ClassID())
		}
		if err := w.WriteRaw(h[:]); err != nil {
			return err
		}
	}
	return nil
}

func writeNullChild(w *streamio.Writer) error {
	if err := w.WriteInt64(constructable.NullClassID); err != nil {
		return err
	}
	return w.WriteInt32(constructable.NullVersion)
}

func writeLeafPayload(w *streamio.Writer, leaf *merkle.Leaf, opts Options, sink ExternalSink) error {
	payload, ok := leaf.Value().(LeafPayload)
	if !ok {
		return fmt.Errorf("%w: leaf class %#x value does not implement LeafPayload", merkleerr.ErrMerkleSerialization, leaf.ClassID())
	}

	if opts.ExternalSerialization {
		if ext, ok := payload.(ExternalLeafPayload); ok {
			return writeExternalLeaf(w, ext, sink)
		}
	}
	return payload.WriteTo(w)
}

func writeExternalLeaf(w *streamio.Writer, payload ExternalLeafPayload, sink ExternalSink) error {
	raw, err := payload.ExternalBytes()
	if err != nil {
		return err
	}
	hash := contentHash(raw)
	if sink == nil {
		return fmt.Errorf("%w: external leaf payload with no ExternalSink configured", merkleerr.ErrMerkleSerialization)
	}
	if err := sink.Put(hash, raw); err != nil {
		return err
	}
	return w.WriteRaw(hash[:])
}

// Deserialize reads a tree written by Serialize, rebuilding it through a
// stack of partially constructed internals (spec §4.4): a record is
// attached to the top-of-stack parent as soon as it is read, pushed itself
// if it is an internal awaiting more children, and the stack pops whenever
// a parent's child slots are filled. maxNodes bounds memory against a
// hostile or corrupt stream; 0 means unbounded.
func Deserialize(r *streamio.Reader, registry *Registry, source ExternalSource, maxNodes int) (root merkle.Node, protocolVersion int32, err error) {
	protocolVersion, err = r.ReadInt32()
	if err != nil {
		return nil, 0, err
	}
	opts, err := readOptions(r)
	if err != nil {
		return nil, 0, err
	}
	rootIsNull, err := r.ReadBool()
	if err != nil {
		return nil, 0, err
	}
	if rootIsNull {
		return nil, protocolVersion, nil
	}

	type pending struct {
		internal  *merkle.Internal
		remaining int
		nextIndex int
	}

	var stack []*pending
	nodeCount := 0

	for {
		if maxNodes > 0 && nodeCount >= maxNodes {
			return nil, 0, fmt.Errorf("%w: tree exceeds max_nodes %d", merkleerr.ErrMerkleSerialization, maxNodes)
		}

		node, childCount, err := readNodeRecord(r, registry, opts, source)
		if err != nil {
			return nil, 0, err
		}
		nodeCount++

		if len(stack) == 0 {
			root = node
		} else {
			top := stack[len(stack)-1]
			if err := top.internal.SetChild(top.nextIndex, node); err != nil {
				return nil, 0, err
			}
			top.nextIndex++
		}

		if in, ok := node.(*merkle.Internal); ok && childCount > 0 {
			stack = append(stack, &pending{internal: in, remaining: childCount})
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.nextIndex < top.remaining {
				break
			}
			if opts.WriteHashes {
				h, err := readHashTrailer(r)
				if err != nil {
					return nil, 0, err
				}
				top.internal.PrimeHash(h)
			}
			stack = stack[:len(stack)-1]
		}

		if len(stack) == 0 {
			break
		}
	}

	return root, protocolVersion, nil
}

// readNodeRecord reads one node record and, for a leaf or an internal node
// with no children, its trailing hash (the trailing hash of an internal node
// with children is read by the caller once the stack pop confirms all
// children have been attached). It returns the constructed
// node (nil for a null-child placeholder) and, for an internal node, its
// declared child count.
func readNodeRecord(r *streamio.Reader, registry *Registry, opts Options, source ExternalSource) (merkle.Node, int, error) {
	classID, err := r.ReadInt64()
	if err != nil {
		return nil, 0, err
	}
	version, err := r.ReadInt32()
	if err != nil {
		return nil, 0, err
	}
	if classID == constructable.NullClassID {
		return nil, 0, nil
	}

	leafReg, shape, isLeaf, err := registry.lookup(classID)
	if err != nil {
		return nil, 0, err
	}

	if isLeaf {
		payload := leafReg.ctor()
		if version < payload.MinimumSupportedVersion() || version > payload.Version() {
			return nil, 0, &merkleerr.IllegalVersionError{ClassID: classID, Got: version, Min: payload.MinimumSupportedVersion(), Max: payload.Version()}
		}
		if opts.ExternalSerialization && leafReg.external {
			ext, ok := payload.(ExternalLeafPayload)
			if !ok {
				return nil, 0, fmt.Errorf("%w: class %#x registered external but payload lacks ExternalLeafPayload", merkleerr.ErrMerkleSerialization, classID)
			}
			if err := readExternalLeaf(r, ext, source); err != nil {
				return nil, 0, err
			}
		} else if err := payload.ReadFrom(r, version); err != nil {
			return nil, 0, err
		}
		leaf := merkle.NewLeaf(classID, version, payload, leafReg.selfHashing)
		if opts.WriteHashes {
			h, err := readHashTrailer(r)
			if err != nil {
				return nil, 0, err
			}
			leaf.PrimeHash(h)
		}
		return leaf, 0, nil
	}

	childCount, err := r.ReadInt32()
	if err != nil {
		return nil, 0, err
	}
	in := merkle.NewInternal(classID, version, shape.minChildren, shape.maxChildren)
	if err := in.ValidateChildCount(int(childCount)); err != nil {
		return nil, 0, err
	}
	if childCount == 0 && opts.WriteHashes {
		h, err := readHashTrailer(r)
		if err != nil {
			return nil, 0, err
		}
		in.PrimeHash(h)
	}
	return in, int(childCount), nil
}

func readExternalLeaf(r *streamio.Reader, payload ExternalLeafPayload, source ExternalSource) error {
	var hash [32]byte
	if err := streamio.ReadRaw(r, hash[:]); err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: external leaf payload with no ExternalSource configured", merkleerr.ErrMerkleSerialization)
	}
	raw, err := source.Get(hash)
	if err != nil {
		return err
	}
	return payload.LoadExternal(raw)
}

func readHashTrailer(r *streamio.Reader) (merkle.Hash, error) {
	var h merkle.Hash
	if err := streamio.ReadRaw(r, h[:]); err != nil {
		return merkle.Hash{}, err
	}
	return h, nil
}
