// Package store wraps a shared bbolt database for durable state that
// outlives a single process (spec §4.7: a virtual-map pipeline's flush
// target). Adapted from the teacher's key/value mapping store: the bucket
// set and accessors are narrowed to the one concern this runtime actually
// persists — flushed fast-copy generations, keyed by sequence number —
// rather than the teacher's git/blake3/sha256 cross-reference tables.
package store

import (
	"encoding/binary"
	"errors"

	"go.etcd.io/bbolt"
)

// BucketFlushedCopies holds one compressed, framed whole-tree blob per
// flushed virtual-map generation, keyed by its big-endian sequence number.
var BucketFlushedCopies = []byte("flushed-copies")

type DB struct{ *bbolt.DB }

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0666, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(BucketFlushedCopies)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func (db *DB) Close() error { return db.DB.Close() }

// PutFlushedCopy stores data (already compressed by the caller) under seq.
func (db *DB) PutFlushedCopy(seq uint64, data []byte) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BucketFlushedCopies).Put(key, data)
	})
}

// GetFlushedCopy retrieves the blob stored under seq by PutFlushedCopy.
func (db *DB) GetFlushedCopy(seq uint64) ([]byte, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	var out []byte
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(BucketFlushedCopies).Get(key)
		if v == nil {
			return errors.New("store: no flushed copy for that sequence number")
		}
		out = append(out, v...)
		return nil
	})
	return out, err
}
