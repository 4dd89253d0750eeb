// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unsafe"

	"github.com/ffutop/modbus-master/internal/sim/model"
)

// The state image packs the four tables in TableType order, bit tables
// first. Register bytes are host-endian: the image is zero-copy and
// not portable across architectures of different endianness.
const (
	bitTableBytes  = model.MaxAddress + 1
	wordTableBytes = (model.MaxAddress + 1) * 2
	stateImageSize = 2*bitTableBytes + 2*wordTableBytes
)

// tableSpan locates one table inside the state image.
func tableSpan(table model.TableType) (offset, length int) {
	switch table {
	case model.TableCoils:
		return 0, bitTableBytes
	case model.TableDiscreteInputs:
		return bitTableBytes, bitTableBytes
	case model.TableHoldingRegisters:
		return 2 * bitTableBytes, wordTableBytes
	case model.TableInputRegisters:
		return 2*bitTableBytes + wordTableBytes, wordTableBytes
	}
	return 0, 0
}

// writeSpan converts a table write into the byte range it dirtied, so
// a backend can sync that range alone instead of the whole image.
func writeSpan(table model.TableType, address, quantity uint16) (offset, length int) {
	tableOffset, tableLength := tableSpan(table)
	unit := 1
	if table == model.TableHoldingRegisters || table == model.TableInputRegisters {
		unit = 2
	}
	offset = tableOffset + int(address)*unit
	length = int(quantity) * unit
	if offset+length > tableOffset+tableLength {
		length = tableOffset + tableLength - offset
	}
	return offset, length
}

// mapStateToModel constructs a DataModel whose tables alias the state
// image, so every model write lands in the image with no copying. File
// records are not part of the image; the caller populates Files from
// the sidecar.
func mapStateToModel(image []byte) *model.DataModel {
	m := &model.DataModel{
		Files: make(map[uint16][]uint16),
	}

	offset, length := tableSpan(model.TableCoils)
	m.Coils = image[offset : offset+length]

	offset, length = tableSpan(model.TableDiscreteInputs)
	m.DiscreteInputs = image[offset : offset+length]

	offset, length = tableSpan(model.TableHoldingRegisters)
	m.HoldingRegisters = asWords(image[offset : offset+length])

	offset, length = tableSpan(model.TableInputRegisters)
	m.InputRegisters = asWords(image[offset : offset+length])

	return m
}

func asWords(b []byte) []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// The file record sidecar is little-endian regardless of host order:
// a uint16 file count, then per file its number followed by all
// model.FileSize records. Files appear in ascending number order so
// the sidecar bytes are deterministic for a given model.
const fileEntryBytes = 2 + model.FileSize*2

func encodeFiles(files map[uint16][]uint16) []byte {
	numbers := make([]uint16, 0, len(files))
	for n := range files {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	buf := make([]byte, 2+len(numbers)*fileEntryBytes)
	binary.LittleEndian.PutUint16(buf, uint16(len(numbers)))
	p := 2
	for _, n := range numbers {
		binary.LittleEndian.PutUint16(buf[p:], n)
		p += 2
		for _, v := range files[n] {
			binary.LittleEndian.PutUint16(buf[p:], v)
			p += 2
		}
	}
	return buf
}

func decodeFiles(buf []byte) (map[uint16][]uint16, error) {
	files := make(map[uint16][]uint16)
	if len(buf) == 0 {
		return files, nil
	}
	if len(buf) < 2 {
		return nil, fmt.Errorf("file record sidecar truncated")
	}
	count := int(binary.LittleEndian.Uint16(buf))
	if len(buf) != 2+count*fileEntryBytes {
		return nil, fmt.Errorf("file record sidecar truncated")
	}
	p := 2
	for i := 0; i < count; i++ {
		number := binary.LittleEndian.Uint16(buf[p:])
		p += 2
		records := make([]uint16, model.FileSize)
		for j := range records {
			records[j] = binary.LittleEndian.Uint16(buf[p:])
			p += 2
		}
		files[number] = records
	}
	return files, nil
}
