// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Function Codes
const (
	FuncCodeReadCoils            = 0x01
	FuncCodeReadDiscreteInputs   = 0x02
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeMaskWriteRegister      = 0x16

	FuncCodeReadFileRecord             = 0x14
	FuncCodeWriteFileRecord            = 0x15
	FuncCodeReadWriteMultipleRegisters = 0x17
)

// Quantity ceilings per function code.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
	MaxFileGroups     = 35

	MaxReadWriteReadRegisters  = 125
	MaxReadWriteWriteRegisters = 121
)

// PDUMaxSize is one function code byte plus up to 252 data bytes.
// The payload scratch shared by request encoding and response decoding
// is two bytes smaller: a PDU whose data would not fit in an RTU frame
// alongside slave id and CRC is rejected before it reaches a port.
const (
	PDUMaxSize  = 253
	scratchSize = PDUMaxSize - 2
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// ReadFileGroup names one sub-request of a Read File Record (0x14)
// transaction. Data is the caller-owned destination; its length is the
// number of 16-bit records requested.
type ReadFileGroup struct {
	FileNumber uint16
	Address    uint16
	Data       []uint16
}

// WriteFileGroup names one sub-request of a Write File Record (0x15)
// transaction.
type WriteFileGroup struct {
	FileNumber uint16
	Address    uint16
	Data       []uint16
}

// fileRecordReferenceType is the only reference type the file record
// functions define.
const fileRecordReferenceType = 0x06
