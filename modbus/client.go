// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/ffutop/modbus-master/transport"
)

// Client is a Modbus master speaking through a transport.Commander. It
// encodes one request PDU per operation, hands it to the transport
// together with a response buffer of the exact expected size, and
// re-validates the decoded payload against the function's shape.
//
// Each operation builds its PDU in a 251-byte stack scratch. The reads,
// the single writes and the mask write also receive the response
// payload into that scratch; the Commander contract permits the overlap
// because reception starts only after the request is on the wire. The
// multiple writes and the file record write receive their echo into a
// separate buffer.
type Client struct {
	t transport.Commander
}

// NewClient creates a Client on top of a connected or lazily connecting
// transport.
func NewClient(t transport.Commander) *Client {
	return &Client{t: t}
}

// readBits requests count bits starting at address with functionCode
// (0x01 or 0x02) and hands each decoded bit to set. Coil bytes pack
// bits LSB-first.
func (mb *Client) readBits(ctx context.Context, slaveID byte, functionCode byte, address uint16, count int, set func(i int, bit bool), timeout time.Duration) error {
	if count > MaxReadBits {
		return ErrRequestTooLarge
	}
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], uint16(count))
	nExpected := (count+7)/8 + 1
	response, err := mb.t.Command(ctx, slaveID, functionCode, buffer[:4], buffer[:nExpected], timeout)
	if err != nil {
		return err
	}
	if len(response) != nExpected || buffer[0] != byte(nExpected-1) {
		return ErrInvalidResponse
	}
	for i := 0; i < count; i++ {
		set(i, buffer[1+i/8]>>(i%8)&1 == 1)
	}
	return nil
}

// ReadCoils reads len(values) coils starting at address (0x01).
func (mb *Client) ReadCoils(ctx context.Context, slaveID byte, address uint16, values []bool, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadCoils, address, len(values), func(i int, bit bool) {
		values[i] = bit
	}, timeout)
}

// ReadCoilsBytes is ReadCoils into a byte destination; elements become
// 0 or 1.
func (mb *Client) ReadCoilsBytes(ctx context.Context, slaveID byte, address uint16, values []byte, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadCoils, address, len(values), func(i int, bit bool) {
		values[i] = 0
		if bit {
			values[i] = 1
		}
	}, timeout)
}

// ReadCoilsWords is ReadCoils into a uint16 destination; elements
// become 0 or 1.
func (mb *Client) ReadCoilsWords(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadCoils, address, len(values), func(i int, bit bool) {
		values[i] = 0
		if bit {
			values[i] = 1
		}
	}, timeout)
}

// ReadDiscreteInputs reads len(values) discrete inputs starting at
// address (0x02).
func (mb *Client) ReadDiscreteInputs(ctx context.Context, slaveID byte, address uint16, values []bool, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadDiscreteInputs, address, len(values), func(i int, bit bool) {
		values[i] = bit
	}, timeout)
}

// ReadDiscreteInputsBytes is ReadDiscreteInputs into a byte destination.
func (mb *Client) ReadDiscreteInputsBytes(ctx context.Context, slaveID byte, address uint16, values []byte, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadDiscreteInputs, address, len(values), func(i int, bit bool) {
		values[i] = 0
		if bit {
			values[i] = 1
		}
	}, timeout)
}

// ReadDiscreteInputsWords is ReadDiscreteInputs into a uint16
// destination.
func (mb *Client) ReadDiscreteInputsWords(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	return mb.readBits(ctx, slaveID, FuncCodeReadDiscreteInputs, address, len(values), func(i int, bit bool) {
		values[i] = 0
		if bit {
			values[i] = 1
		}
	}, timeout)
}

func (mb *Client) readRegisters(ctx context.Context, slaveID byte, functionCode byte, address uint16, values []uint16, timeout time.Duration) error {
	if len(values) > MaxReadRegisters {
		return ErrRequestTooLarge
	}
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], uint16(len(values)))
	nExpected := len(values)*2 + 1
	response, err := mb.t.Command(ctx, slaveID, functionCode, buffer[:4], buffer[:nExpected], timeout)
	if err != nil {
		return err
	}
	if len(response) != nExpected || buffer[0] != byte(nExpected-1) {
		return ErrInvalidResponse
	}
	for i := range values {
		values[i] = binary.BigEndian.Uint16(buffer[1+i*2:])
	}
	return nil
}

// ReadHoldingRegisters reads len(values) holding registers starting at
// address (0x03).
func (mb *Client) ReadHoldingRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	return mb.readRegisters(ctx, slaveID, FuncCodeReadHoldingRegisters, address, values, timeout)
}

// ReadInputRegisters reads len(values) input registers starting at
// address (0x04).
func (mb *Client) ReadInputRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	return mb.readRegisters(ctx, slaveID, FuncCodeReadInputRegisters, address, values, timeout)
}

// WriteSingleCoil writes one coil at address (0x05). On the wire true
// is 0xFF00 and false is 0x0000.
func (mb *Client) WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, value bool, timeout time.Duration) error {
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	if value {
		buffer[2] = 0xFF
	}
	response, err := mb.t.Command(ctx, slaveID, FuncCodeWriteSingleCoil, buffer[:4], buffer[4:8], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:4]) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteSingleRegister writes one holding register at address (0x06).
func (mb *Client) WriteSingleRegister(ctx context.Context, slaveID byte, address uint16, value uint16, timeout time.Duration) error {
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], value)
	response, err := mb.t.Command(ctx, slaveID, FuncCodeWriteSingleRegister, buffer[:4], buffer[4:8], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:4]) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteMultipleCoils writes len(values) coils starting at address
// (0x0F).
func (mb *Client) WriteMultipleCoils(ctx context.Context, slaveID byte, address uint16, values []bool, timeout time.Duration) error {
	if len(values) > MaxWriteBits {
		return ErrRequestTooLarge
	}
	nDataBytes := (len(values) + 7) / 8
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], uint16(len(values)))
	buffer[4] = byte(nDataBytes)
	for i, v := range values {
		if v {
			buffer[5+i/8] |= 1 << (i % 8)
		}
	}
	var echo [4]byte
	response, err := mb.t.Command(ctx, slaveID, FuncCodeWriteMultipleCoils, buffer[:5+nDataBytes], echo[:], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:4]) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteMultipleRegisters writes len(values) holding registers starting
// at address (0x10).
func (mb *Client) WriteMultipleRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	if len(values) > MaxWriteRegisters {
		return ErrRequestTooLarge
	}
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], uint16(len(values)))
	buffer[4] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(buffer[5+i*2:], v)
	}
	var echo [4]byte
	response, err := mb.t.Command(ctx, slaveID, FuncCodeWriteMultipleRegisters, buffer[:5+len(values)*2], echo[:], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:4]) {
		return ErrInvalidResponse
	}
	return nil
}

// WriteCoils writes coils with 0x05 when len(values) == 1 and 0x0F
// otherwise. Pure routing; semantics are identical.
func (mb *Client) WriteCoils(ctx context.Context, slaveID byte, address uint16, values []bool, timeout time.Duration) error {
	if len(values) == 1 {
		return mb.WriteSingleCoil(ctx, slaveID, address, values[0], timeout)
	}
	return mb.WriteMultipleCoils(ctx, slaveID, address, values, timeout)
}

// WriteRegisters writes registers with 0x06 when len(values) == 1 and
// 0x10 otherwise.
func (mb *Client) WriteRegisters(ctx context.Context, slaveID byte, address uint16, values []uint16, timeout time.Duration) error {
	if len(values) == 1 {
		return mb.WriteSingleRegister(ctx, slaveID, address, values[0], timeout)
	}
	return mb.WriteMultipleRegisters(ctx, slaveID, address, values, timeout)
}

// ReadFileRecord reads up to 35 file record groups in one transaction
// (0x14). Each group's Data slice receives len(Data) records.
func (mb *Client) ReadFileRecord(ctx context.Context, slaveID byte, groups []ReadFileGroup, timeout time.Duration) error {
	if len(groups) > MaxFileGroups {
		return ErrRequestTooLarge
	}
	nExpected := 1
	for _, g := range groups {
		nExpected += len(g.Data)*2 + 2
		if nExpected > scratchSize {
			return ErrRequestTooLarge
		}
	}
	var buffer [scratchSize]byte
	buffer[0] = byte(len(groups) * 7)
	p := 1
	for _, g := range groups {
		buffer[p] = fileRecordReferenceType
		binary.BigEndian.PutUint16(buffer[p+1:], g.FileNumber)
		binary.BigEndian.PutUint16(buffer[p+3:], g.Address)
		binary.BigEndian.PutUint16(buffer[p+5:], uint16(len(g.Data)))
		p += 7
	}
	response, err := mb.t.Command(ctx, slaveID, FuncCodeReadFileRecord, buffer[:p], buffer[:nExpected], timeout)
	if err != nil {
		return err
	}
	if len(response) != nExpected || response[0] != byte(nExpected-1) {
		return ErrInvalidResponse
	}
	p = 1
	for _, g := range groups {
		if buffer[p] != byte(1+len(g.Data)*2) || buffer[p+1] != fileRecordReferenceType {
			return ErrInvalidResponse
		}
		p += 2
		for i := range g.Data {
			g.Data[i] = binary.BigEndian.Uint16(buffer[p:])
			p += 2
		}
	}
	return nil
}

// WriteFileRecord writes file record groups in one transaction (0x15).
// The slave echoes the whole request.
func (mb *Client) WriteFileRecord(ctx context.Context, slaveID byte, groups []WriteFileGroup, timeout time.Duration) error {
	nBytes := 1
	for _, g := range groups {
		nBytes += len(g.Data)*2 + 7
		if nBytes > scratchSize {
			return ErrRequestTooLarge
		}
	}
	var buffer [scratchSize]byte
	buffer[0] = byte(nBytes - 1)
	p := 1
	for _, g := range groups {
		buffer[p] = fileRecordReferenceType
		binary.BigEndian.PutUint16(buffer[p+1:], g.FileNumber)
		binary.BigEndian.PutUint16(buffer[p+3:], g.Address)
		binary.BigEndian.PutUint16(buffer[p+5:], uint16(len(g.Data)))
		p += 7
		for _, v := range g.Data {
			binary.BigEndian.PutUint16(buffer[p:], v)
			p += 2
		}
	}
	var responseBuffer [scratchSize]byte
	response, err := mb.t.Command(ctx, slaveID, FuncCodeWriteFileRecord, buffer[:nBytes], responseBuffer[:nBytes], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:nBytes]) {
		return ErrInvalidResponse
	}
	return nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT
// andMask) to the holding register at address (0x16).
func (mb *Client) MaskWriteRegister(ctx context.Context, slaveID byte, address uint16, andMask uint16, orMask uint16, timeout time.Duration) error {
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], address)
	binary.BigEndian.PutUint16(buffer[2:], andMask)
	binary.BigEndian.PutUint16(buffer[4:], orMask)
	response, err := mb.t.Command(ctx, slaveID, FuncCodeMaskWriteRegister, buffer[:6], buffer[6:12], timeout)
	if err != nil {
		return err
	}
	if !bytes.Equal(response, buffer[:6]) {
		return ErrInvalidResponse
	}
	return nil
}

// ReadWriteRegisters writes writeValues at writeAddress and reads
// len(readValues) registers from readAddress in a single transaction
// (0x17). The write is performed before the read.
func (mb *Client) ReadWriteRegisters(ctx context.Context, slaveID byte, readAddress uint16, readValues []uint16, writeAddress uint16, writeValues []uint16, timeout time.Duration) error {
	if len(readValues) > MaxReadWriteReadRegisters || len(writeValues) > MaxReadWriteWriteRegisters {
		return ErrRequestTooLarge
	}
	var buffer [scratchSize]byte
	binary.BigEndian.PutUint16(buffer[0:], readAddress)
	binary.BigEndian.PutUint16(buffer[2:], uint16(len(readValues)))
	binary.BigEndian.PutUint16(buffer[4:], writeAddress)
	binary.BigEndian.PutUint16(buffer[6:], uint16(len(writeValues)))
	buffer[8] = byte(len(writeValues) * 2)
	p := 9
	for _, v := range writeValues {
		binary.BigEndian.PutUint16(buffer[p:], v)
		p += 2
	}
	nExpected := len(readValues)*2 + 1
	response, err := mb.t.Command(ctx, slaveID, FuncCodeReadWriteMultipleRegisters, buffer[:p], buffer[:nExpected], timeout)
	if err != nil {
		return err
	}
	if len(response) != nExpected || response[0] != byte(nExpected-1) {
		return ErrInvalidResponse
	}
	for i := range readValues {
		readValues[i] = binary.BigEndian.Uint16(buffer[1+i*2:])
	}
	return nil
}
