// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-master/internal/sim/model"
)

// FileStorage keeps the state image in an ordinary file and file
// records in a sidecar next to it. Table writes sync only the dirtied
// byte range; file record writes rewrite the sidecar whole, since one
// write can allocate a new file and shift everything behind it.
type FileStorage struct {
	path  string
	file  *os.File
	image []byte
	model *model.DataModel
}

// NewFileStorage creates a FileStorage persisting to path. The
// sidecar lives at path + ".files".
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

func (fs *FileStorage) sidecarPath() string {
	return fs.path + ".files"
}

// Load opens or creates the state file and returns the model aliasing
// its contents. A missing sidecar means no file records exist yet.
func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	fs.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(stateImageSize) {
		if err := f.Truncate(int64(stateImageSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize state file: %w", err)
		}
	}

	image, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	fs.image = image
	fs.model = mapStateToModel(image)

	sidecar, err := os.ReadFile(fs.sidecarPath())
	if err != nil && !os.IsNotExist(err) {
		f.Close()
		return nil, fmt.Errorf("failed to read file record sidecar: %w", err)
	}
	files, err := decodeFiles(sidecar)
	if err != nil {
		f.Close()
		return nil, err
	}
	fs.model.Files = files

	return fs.model, nil
}

// Save flushes the state image and the file record sidecar.
func (fs *FileStorage) Save(m *model.DataModel) error {
	if err := fs.syncImage(0, len(fs.image)); err != nil {
		return err
	}
	return fs.syncFiles()
}

// OnWrite syncs the dirtied range, or the sidecar for file records.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	var err error
	if table == model.TableFiles {
		err = fs.syncFiles()
	} else {
		offset, length := writeSpan(table, address, quantity)
		err = fs.syncImage(offset, length)
	}
	if err != nil {
		slog.Error("Failed to sync state file", "err", err)
	}
}

func (fs *FileStorage) syncImage(offset, length int) error {
	if fs.image == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.image[offset:offset+length], int64(offset)); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync state file to disk: %w", err)
	}
	return nil
}

func (fs *FileStorage) syncFiles() error {
	if fs.model == nil {
		return nil
	}
	if err := os.WriteFile(fs.sidecarPath(), encodeFiles(fs.model.Files), 0644); err != nil {
		return fmt.Errorf("failed to write file record sidecar: %w", err)
	}
	return nil
}

// Close flushes both files and closes the state file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	if err := fs.Save(fs.model); err != nil {
		fs.file.Close()
		return err
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
