// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocstore

import (
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/devicelab/core/structs"
)

// allocationsBucket is the single top-level bucket BoltPersistence keeps,
// keyed by "jobID/testID". One bucket is enough since this store only
// ever persists one kind of record.
var allocationsBucket = []byte("allocations")

// BoltPersistence is the on-disk Persistence implementation: a single
// bbolt file, msgpack-encoded records, one bucket.
type BoltPersistence struct {
	db     *bolt.DB
	logger hclog.Logger
}

func NewBoltPersistence(path string, logger hclog.Logger) (*BoltPersistence, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("allocstore: open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(allocationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("allocstore: create bucket: %w", err)
	}
	return &BoltPersistence{db: db, logger: logger.Named("allocstore.bolt")}, nil
}

func allocKey(test structs.Locator) []byte {
	return []byte(test.JobID + "/" + test.TestID)
}

func (b *BoltPersistence) List() ([]*structs.Allocation, error) {
	var out []*structs.Allocation
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(allocationsBucket)
		return bkt.ForEach(func(k, v []byte) error {
			var alloc structs.Allocation
			if err := decodeMsgpack(v, &alloc); err != nil {
				b.logger.Warn("dropping unreadable persisted allocation", "key", string(k), "error", err)
				return nil
			}
			out = append(out, &alloc)
			return nil
		})
	})
	return out, err
}

func (b *BoltPersistence) Put(alloc *structs.Allocation) error {
	buf, err := encodeMsgpack(alloc)
	if err != nil {
		return fmt.Errorf("allocstore: encode allocation: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(allocationsBucket).Put(allocKey(alloc.TestLocator), buf)
	})
}

func (b *BoltPersistence) Delete(test structs.Locator) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(allocationsBucket).Delete(allocKey(test))
	})
}

func (b *BoltPersistence) Close() error { return b.db.Close() }

var msgpackHandle = &msgpack.MsgpackHandle{}

func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeMsgpack(buf []byte, v interface{}) error {
	dec := msgpack.NewDecoderBytes(buf, msgpackHandle)
	return dec.Decode(v)
}
