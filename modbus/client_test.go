// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package modbus

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// mockCommander plays the transport role: it snapshots the request
// (request and response may alias, like the RTU framer's scratch), asks
// reply for the payload, and copies it into the response buffer.
type mockCommander struct {
	reply func(slaveID, functionCode byte, request []byte) ([]byte, error)

	calls       int
	lastSlaveID byte
	lastFunc    byte
	lastRequest []byte
}

func (m *mockCommander) Command(ctx context.Context, slaveID byte, functionCode byte, request []byte, response []byte, timeout time.Duration) ([]byte, error) {
	m.calls++
	m.lastSlaveID = slaveID
	m.lastFunc = functionCode
	m.lastRequest = append([]byte(nil), request...)
	payload, err := m.reply(slaveID, functionCode, m.lastRequest)
	if err != nil {
		return nil, err
	}
	n := copy(response, payload)
	return response[:n], nil
}

func (m *mockCommander) Connect(ctx context.Context) error { return nil }
func (m *mockCommander) Close() error                      { return nil }

func echoCommander() *mockCommander {
	m := &mockCommander{}
	m.reply = func(slaveID, functionCode byte, request []byte) ([]byte, error) {
		return request, nil
	}
	return m
}

func TestReadCoils(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{0x02, 0b00000101, 0b00000010}, nil
		},
	}
	client := NewClient(m)

	values := make([]bool, 10)
	if err := client.ReadCoils(context.Background(), 1, 0x0013, values, time.Second); err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if m.lastFunc != FuncCodeReadCoils {
		t.Errorf("function code %#x", m.lastFunc)
	}
	if !bytes.Equal(m.lastRequest, []byte{0x00, 0x13, 0x00, 0x0A}) {
		t.Errorf("request %X", m.lastRequest)
	}
	want := []bool{true, false, true, false, false, false, false, false, false, true}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("coil %d = %v, want %v", i, values[i], want[i])
		}
	}
}

func TestReadCoilsBytesWords(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{0x01, 0b00000110}, nil
		},
	}
	client := NewClient(m)

	asBytes := make([]byte, 3)
	if err := client.ReadCoilsBytes(context.Background(), 1, 0, asBytes, time.Second); err != nil {
		t.Fatalf("ReadCoilsBytes: %v", err)
	}
	if !bytes.Equal(asBytes, []byte{0, 1, 1}) {
		t.Errorf("bytes %v", asBytes)
	}

	asWords := make([]uint16, 3)
	if err := client.ReadCoilsWords(context.Background(), 1, 0, asWords, time.Second); err != nil {
		t.Fatalf("ReadCoilsWords: %v", err)
	}
	if asWords[0] != 0 || asWords[1] != 1 || asWords[2] != 1 {
		t.Errorf("words %v", asWords)
	}
}

func TestReadCoilsTooMany(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	values := make([]bool, MaxReadBits+1)
	if err := client.ReadCoils(context.Background(), 1, 0, values, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}
	if m.calls != 0 {
		t.Error("oversized request must not reach the transport")
	}
}

func TestReadCoilsShortResponse(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{0x01, 0x00}, nil
		},
	}
	client := NewClient(m)

	values := make([]bool, 10)
	if err := client.ReadCoils(context.Background(), 1, 0, values, time.Second); err != ErrInvalidResponse {
		t.Errorf("want ErrInvalidResponse, got %v", err)
	}
}

func TestReadHoldingRegisters(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{0x04, 0x12, 0x34, 0xAB, 0xCD}, nil
		},
	}
	client := NewClient(m)

	values := make([]uint16, 2)
	if err := client.ReadHoldingRegisters(context.Background(), 1, 0x006B, values, time.Second); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if m.lastFunc != FuncCodeReadHoldingRegisters {
		t.Errorf("function code %#x", m.lastFunc)
	}
	if !bytes.Equal(m.lastRequest, []byte{0x00, 0x6B, 0x00, 0x02}) {
		t.Errorf("request %X", m.lastRequest)
	}
	if values[0] != 0x1234 || values[1] != 0xABCD {
		t.Errorf("values %04X", values)
	}
}

func TestReadInputRegistersTooMany(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	values := make([]uint16, MaxReadRegisters+1)
	if err := client.ReadInputRegisters(context.Background(), 1, 0, values, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}
	if m.calls != 0 {
		t.Error("oversized request must not reach the transport")
	}
}

func TestWriteSingleCoil(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	if err := client.WriteSingleCoil(context.Background(), 1, 0x00AC, true, time.Second); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if !bytes.Equal(m.lastRequest, []byte{0x00, 0xAC, 0xFF, 0x00}) {
		t.Errorf("request %X", m.lastRequest)
	}

	if err := client.WriteSingleCoil(context.Background(), 1, 0x00AC, false, time.Second); err != nil {
		t.Fatalf("WriteSingleCoil off: %v", err)
	}
	if !bytes.Equal(m.lastRequest, []byte{0x00, 0xAC, 0x00, 0x00}) {
		t.Errorf("request %X", m.lastRequest)
	}
}

func TestWriteSingleRegisterEchoMismatch(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			bad := append([]byte(nil), request...)
			bad[3] ^= 0x01
			return bad, nil
		},
	}
	client := NewClient(m)

	if err := client.WriteSingleRegister(context.Background(), 1, 0x0001, 0x0003, time.Second); err != ErrInvalidResponse {
		t.Errorf("want ErrInvalidResponse, got %v", err)
	}
}

func TestWriteMultipleCoils(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return request[:4], nil
		},
	}
	client := NewClient(m)

	values := []bool{true, false, true, true, false, false, true, false, true, true}
	if err := client.WriteMultipleCoils(context.Background(), 1, 0x0013, values, time.Second); err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}
	want := []byte{0x00, 0x13, 0x00, 0x0A, 0x02, 0b01001101, 0b00000011}
	if !bytes.Equal(m.lastRequest, want) {
		t.Errorf("request %X, want %X", m.lastRequest, want)
	}
}

func TestWriteMultipleRegisters(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return request[:4], nil
		},
	}
	client := NewClient(m)

	if err := client.WriteMultipleRegisters(context.Background(), 1, 0x0001, []uint16{0x000A, 0x0102}, time.Second); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}
	if !bytes.Equal(m.lastRequest, want) {
		t.Errorf("request %X, want %X", m.lastRequest, want)
	}
}

func TestWriteCoilsDispatch(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	if err := client.WriteCoils(context.Background(), 1, 0, []bool{true}, time.Second); err != nil {
		t.Fatalf("WriteCoils single: %v", err)
	}
	if m.lastFunc != FuncCodeWriteSingleCoil {
		t.Errorf("single coil dispatched as %#x", m.lastFunc)
	}

	m.reply = func(slaveID, functionCode byte, request []byte) ([]byte, error) {
		return request[:4], nil
	}
	if err := client.WriteCoils(context.Background(), 1, 0, []bool{true, false}, time.Second); err != nil {
		t.Fatalf("WriteCoils multiple: %v", err)
	}
	if m.lastFunc != FuncCodeWriteMultipleCoils {
		t.Errorf("multiple coils dispatched as %#x", m.lastFunc)
	}
}

func TestWriteRegistersDispatch(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	if err := client.WriteRegisters(context.Background(), 1, 0, []uint16{7}, time.Second); err != nil {
		t.Fatalf("WriteRegisters single: %v", err)
	}
	if m.lastFunc != FuncCodeWriteSingleRegister {
		t.Errorf("single register dispatched as %#x", m.lastFunc)
	}

	m.reply = func(slaveID, functionCode byte, request []byte) ([]byte, error) {
		return request[:4], nil
	}
	if err := client.WriteRegisters(context.Background(), 1, 0, []uint16{7, 8}, time.Second); err != nil {
		t.Fatalf("WriteRegisters multiple: %v", err)
	}
	if m.lastFunc != FuncCodeWriteMultipleRegisters {
		t.Errorf("multiple registers dispatched as %#x", m.lastFunc)
	}
}

func TestMaskWriteRegister(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	if err := client.MaskWriteRegister(context.Background(), 1, 0x0004, 0x00F2, 0x0025, time.Second); err != nil {
		t.Fatalf("MaskWriteRegister: %v", err)
	}
	want := []byte{0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}
	if !bytes.Equal(m.lastRequest, want) {
		t.Errorf("request %X, want %X", m.lastRequest, want)
	}
}

func TestReadFileRecord(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{
				0x0C,
				0x05, 0x06, 0x0D, 0xFE, 0x00, 0x20,
				0x05, 0x06, 0x33, 0xCD, 0x00, 0x40,
			}, nil
		},
	}
	client := NewClient(m)

	groups := []ReadFileGroup{
		{FileNumber: 4, Address: 1, Data: make([]uint16, 2)},
		{FileNumber: 3, Address: 9, Data: make([]uint16, 2)},
	}
	if err := client.ReadFileRecord(context.Background(), 1, groups, time.Second); err != nil {
		t.Fatalf("ReadFileRecord: %v", err)
	}
	wantReq := []byte{
		0x0E,
		0x06, 0x00, 0x04, 0x00, 0x01, 0x00, 0x02,
		0x06, 0x00, 0x03, 0x00, 0x09, 0x00, 0x02,
	}
	if !bytes.Equal(m.lastRequest, wantReq) {
		t.Errorf("request %X, want %X", m.lastRequest, wantReq)
	}
	if groups[0].Data[0] != 0x0DFE || groups[0].Data[1] != 0x0020 {
		t.Errorf("group 0 data %04X", groups[0].Data)
	}
	if groups[1].Data[0] != 0x33CD || groups[1].Data[1] != 0x0040 {
		t.Errorf("group 1 data %04X", groups[1].Data)
	}
}

func TestReadFileRecordTooLarge(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	// 125 records need 253 response bytes, past the 251-byte payload.
	groups := []ReadFileGroup{{FileNumber: 1, Address: 0, Data: make([]uint16, 125)}}
	if err := client.ReadFileRecord(context.Background(), 1, groups, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}
	if m.calls != 0 {
		t.Error("oversized request must not reach the transport")
	}

	groups = make([]ReadFileGroup, MaxFileGroups+1)
	for i := range groups {
		groups[i].Data = make([]uint16, 1)
	}
	if err := client.ReadFileRecord(context.Background(), 1, groups, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}
}

func TestWriteFileRecord(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	groups := []WriteFileGroup{
		{FileNumber: 4, Address: 7, Data: []uint16{0x06AF, 0x04BE, 0x100D}},
	}
	if err := client.WriteFileRecord(context.Background(), 1, groups, time.Second); err != nil {
		t.Fatalf("WriteFileRecord: %v", err)
	}
	wantReq := []byte{
		0x0D,
		0x06, 0x00, 0x04, 0x00, 0x07, 0x00, 0x03,
		0x06, 0xAF, 0x04, 0xBE, 0x10, 0x0D,
	}
	if !bytes.Equal(m.lastRequest, wantReq) {
		t.Errorf("request %X, want %X", m.lastRequest, wantReq)
	}
}

func TestWriteFileRecordEchoMismatch(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			bad := append([]byte(nil), request...)
			bad[len(bad)-1] ^= 0x01
			return bad, nil
		},
	}
	client := NewClient(m)

	groups := []WriteFileGroup{{FileNumber: 1, Address: 0, Data: []uint16{1}}}
	if err := client.WriteFileRecord(context.Background(), 1, groups, time.Second); err != ErrInvalidResponse {
		t.Errorf("want ErrInvalidResponse, got %v", err)
	}
}

func TestReadWriteRegisters(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return []byte{0x04, 0x00, 0xFE, 0x0A, 0xCD}, nil
		},
	}
	client := NewClient(m)

	readValues := make([]uint16, 2)
	writeValues := []uint16{0x00FF, 0x00FE, 0x00FD}
	if err := client.ReadWriteRegisters(context.Background(), 1, 0x0003, readValues, 0x000E, writeValues, time.Second); err != nil {
		t.Fatalf("ReadWriteRegisters: %v", err)
	}
	// The request carries the values to WRITE, not a read echo.
	wantReq := []byte{
		0x00, 0x03, 0x00, 0x02,
		0x00, 0x0E, 0x00, 0x03,
		0x06,
		0x00, 0xFF, 0x00, 0xFE, 0x00, 0xFD,
	}
	if !bytes.Equal(m.lastRequest, wantReq) {
		t.Errorf("request %X, want %X", m.lastRequest, wantReq)
	}
	if readValues[0] != 0x00FE || readValues[1] != 0x0ACD {
		t.Errorf("read values %04X", readValues)
	}
}

func TestReadWriteRegistersTooMany(t *testing.T) {
	m := echoCommander()
	client := NewClient(m)

	readValues := make([]uint16, MaxReadWriteReadRegisters+1)
	if err := client.ReadWriteRegisters(context.Background(), 1, 0, readValues, 0, nil, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}

	writeValues := make([]uint16, MaxReadWriteWriteRegisters+1)
	if err := client.ReadWriteRegisters(context.Background(), 1, 0, make([]uint16, 1), 0, writeValues, time.Second); err != ErrRequestTooLarge {
		t.Errorf("want ErrRequestTooLarge, got %v", err)
	}
	if m.calls != 0 {
		t.Error("oversized request must not reach the transport")
	}
}

func TestTransportErrorPropagates(t *testing.T) {
	m := &mockCommander{
		reply: func(slaveID, functionCode byte, request []byte) ([]byte, error) {
			return nil, ErrTimeout
		},
	}
	client := NewClient(m)

	values := make([]uint16, 1)
	if err := client.ReadHoldingRegisters(context.Background(), 1, 0, values, time.Second); err != ErrTimeout {
		t.Errorf("want ErrTimeout, got %v", err)
	}
}
