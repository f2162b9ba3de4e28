// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocstore

import (
	"sync"

	"github.com/devicelab/core/structs"
)

// MemPersistence is an in-memory Persistence: a standalone implementation
// used in tests to exercise restart/restore semantics without a real
// database, while still being a distinct store from the Store's own
// in-memory indices.
type MemPersistence struct {
	mu    sync.Mutex
	byKey map[structs.Locator]*structs.Allocation
}

func NewMemPersistence() *MemPersistence {
	return &MemPersistence{byKey: make(map[structs.Locator]*structs.Allocation)}
}

func (m *MemPersistence) List() ([]*structs.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*structs.Allocation, 0, len(m.byKey))
	for _, a := range m.byKey {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemPersistence) Put(alloc *structs.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alloc
	m.byKey[alloc.TestLocator] = &cp
	return nil
}

func (m *MemPersistence) Delete(test structs.Locator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byKey, test)
	return nil
}

func (m *MemPersistence) Close() error { return nil }
