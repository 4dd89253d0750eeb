// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"github.com/ffutop/modbus-master/internal/sim/model"
)

// Storage persists simulated slave state across runs. The four flat
// tables occupy a fixed-size state image; file records vary in number
// and travel through a sidecar alongside it.
type Storage interface {
	// Load opens the backing store and returns the model it holds.
	// A store that never existed yields an all-zero model.
	Load() (*model.DataModel, error)

	// Save flushes the full model, tables and file records both.
	Save(m *model.DataModel) error

	// OnWrite is called after each mutating function code so the
	// store can sync just the touched range. For TableFiles, address
	// carries the file number and quantity the record count.
	OnWrite(table model.TableType, address, quantity uint16)

	// Close flushes outstanding state and releases the store.
	Close() error
}
