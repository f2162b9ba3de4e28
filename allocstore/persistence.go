// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocstore

import "github.com/devicelab/core/structs"

// Persistence is the adapter contract: list every persisted allocation,
// upsert one, and delete by test locator. A no-op implementation is
// acceptable; restart then resumes nothing, which is well-defined.
type Persistence interface {
	List() ([]*structs.Allocation, error)
	Put(alloc *structs.Allocation) error
	Delete(test structs.Locator) error
	Close() error
}

// NoopPersistence discards everything. Restart with it configured always
// resumes an empty allocation table.
type NoopPersistence struct{}

func (NoopPersistence) List() ([]*structs.Allocation, error) { return nil, nil }
func (NoopPersistence) Put(*structs.Allocation) error        { return nil }
func (NoopPersistence) Delete(structs.Locator) error         { return nil }
func (NoopPersistence) Close() error                         { return nil }
