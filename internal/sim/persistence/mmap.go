// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-master/internal/sim/model"
)

// MmapStorage keeps the state image in a memory-mapped file, so table
// writes land in the page cache with no explicit write path, and file
// records in a sidecar next to it. The sidecar stays an ordinary file:
// it grows as files are allocated and cannot be mapped at a fixed size.
type MmapStorage struct {
	path  string
	file  *os.File
	image mmap.MMap
	model *model.DataModel
}

// NewMmapStorage creates an MmapStorage persisting to path. The
// sidecar lives at path + ".files".
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

func (ms *MmapStorage) sidecarPath() string {
	return ms.path + ".files"
}

// Load maps the state file and returns the model aliasing the mapping.
// A missing sidecar means no file records exist yet.
func (ms *MmapStorage) Load() (*model.DataModel, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	ms.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(stateImageSize) {
		if err := f.Truncate(int64(stateImageSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	image, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.image = image
	ms.model = mapStateToModel(image)

	sidecar, err := os.ReadFile(ms.sidecarPath())
	if err != nil && !os.IsNotExist(err) {
		ms.unmap()
		return nil, fmt.Errorf("failed to read file record sidecar: %w", err)
	}
	files, err := decodeFiles(sidecar)
	if err != nil {
		ms.unmap()
		return nil, err
	}
	ms.model.Files = files

	return ms.model, nil
}

// Save flushes the mapping and the file record sidecar.
func (ms *MmapStorage) Save(m *model.DataModel) error {
	if ms.image == nil {
		return fmt.Errorf("mmap image is nil")
	}
	if err := ms.image.Flush(); err != nil {
		return fmt.Errorf("failed to flush mmap: %w", err)
	}
	return ms.syncFiles()
}

// OnWrite flushes the mapping, or the sidecar for file records.
func (ms *MmapStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if ms.image == nil {
		return
	}
	var err error
	if table == model.TableFiles {
		err = ms.syncFiles()
	} else {
		err = ms.image.Flush()
	}
	if err != nil {
		slog.Error("Failed to flush mmap", "err", err)
	}
}

func (ms *MmapStorage) syncFiles() error {
	if ms.model == nil {
		return nil
	}
	if err := os.WriteFile(ms.sidecarPath(), encodeFiles(ms.model.Files), 0644); err != nil {
		return fmt.Errorf("failed to write file record sidecar: %w", err)
	}
	return nil
}

func (ms *MmapStorage) unmap() {
	if ms.image != nil {
		ms.image.Unmap()
		ms.image = nil
	}
	if ms.file != nil {
		ms.file.Close()
		ms.file = nil
	}
}

// Close flushes the sidecar, unmaps and closes the state file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.image != nil {
		if e := ms.syncFiles(); e != nil {
			err = e
		}
		if e := ms.image.Unmap(); e != nil {
			err = e
		}
		ms.image = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
