// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package session

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/devicelab/core/structs"
)

const tableSessions = "sessions"

// schema indexes sessions by id (unique), client_id and status. No query
// reads the client_id or status index: GetAllSessions walks every session
// through the id index (all) and applies the filter to each.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableSessions: {
				Name: tableSessions,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "SessionID"},
					},
					"client_id": {
						Name:         "client_id",
						Unique:       false,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ClientID"},
					},
					"status": {
						Name:    "status",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}

// store is the memdb-backed session index. Every method takes its own
// transaction; callers needing read-then-write atomicity (status
// transitions) use withWriteTxn directly.
type store struct {
	db *memdb.MemDB
}

func newStore() (*store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("session: init memdb: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) insert(sess *structs.Session) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableSessions, sess); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *store) get(id string) (*structs.Session, bool) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableSessions, "id", id)
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*structs.Session), true
}

// withWriteTxn runs f with exclusive access to sess and commits f's
// mutation, so status transitions ("exactly once") can be validated and
// applied atomically.
func (s *store) withWriteTxn(id string, f func(sess *structs.Session) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSessions, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return errNotFound(id)
	}
	sess := raw.(*structs.Session)
	cp := *sess
	if err := f(&cp); err != nil {
		return err
	}
	if err := txn.Insert(tableSessions, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *store) all() []*structs.Session {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableSessions, "id")
	if err != nil {
		return nil
	}
	var out []*structs.Session
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*structs.Session))
	}
	return out
}

func (s *store) hasUnarchived() bool {
	for _, sess := range s.all() {
		if sess.Status != structs.SessionFinished {
			return true
		}
	}
	return false
}
