// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/sim/model"
	"github.com/ffutop/modbus-master/internal/sim/persistence"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

// Fault selects a response corruption applied to the next exchange.
// Zero value means respond normally.
type Fault int

const (
	FaultNone Fault = iota
	// FaultSilent suppresses the response entirely.
	FaultSilent
	// FaultCorruptCRC flips a bit in the last CRC byte.
	FaultCorruptCRC
	// FaultTruncate drops all but the first three response bytes.
	FaultTruncate
	// FaultExtraBytes appends trailing garbage after the CRC.
	FaultExtraBytes
)

// Port is an in-process serial endpoint. Writes carry complete request
// frames; the frame is CRC-checked and dispatched to the slave, and the
// response frame is replayed one byte at a time through ReadByte. When
// the response runs out ReadByte reports no byte, which the reader
// treats as the inter-frame idle gap.
type Port struct {
	slaveID byte
	slave   *Slave
	storage persistence.Storage

	mu      sync.Mutex
	pending []byte

	// Fault applies to the next exchange only and resets afterwards.
	Fault Fault
}

// NewPort creates a simulated slave on the given storage backend.
// storage may be nil for a volatile model.
func NewPort(slaveID byte, storage persistence.Storage) (*Port, error) {
	var m *model.DataModel
	var err error
	if storage != nil {
		m, err = storage.Load()
		if err != nil {
			return nil, fmt.Errorf("could not load slave state: %w", err)
		}
	} else {
		m = model.NewDataModel()
	}
	return &Port{
		slaveID: slaveID,
		slave:   NewSlave(m, storage),
		storage: storage,
	}, nil
}

// Model exposes the backing data model for test setup.
func (p *Port) Model() *model.DataModel {
	return p.slave.model
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(b) < 4 {
		return len(b), nil
	}
	var sum crc.CRC
	if sum.Reset().PushBytes(b).Value() != 0 {
		// A wire-corrupted request is ignored by real slaves.
		return len(b), nil
	}
	if b[0] != p.slaveID && b[0] != 0 {
		return len(b), nil
	}

	resp, err := p.slave.Process(modbus.ProtocolDataUnit{
		FunctionCode: b[1],
		Data:         b[2 : len(b)-2],
	})
	if err != nil {
		return len(b), err
	}
	if b[0] == 0 {
		// Broadcast: execute, never answer.
		return len(b), nil
	}

	frame := make([]byte, 0, 4+len(resp.Data))
	frame = append(frame, p.slaveID, resp.FunctionCode)
	frame = append(frame, resp.Data...)
	sum.Reset().PushBytes(frame)
	checksum := sum.Value()
	frame = append(frame, byte(checksum), byte(checksum>>8))

	switch p.Fault {
	case FaultSilent:
		frame = nil
	case FaultCorruptCRC:
		frame[len(frame)-1] ^= 0x01
	case FaultTruncate:
		if len(frame) > 3 {
			frame = frame[:3]
		}
	case FaultExtraBytes:
		frame = append(frame, 0xDE, 0xAD)
	}
	p.Fault = FaultNone

	p.pending = frame
	return len(b), nil
}

func (p *Port) ReadByte(timeout time.Duration) (byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return 0, false, nil
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	return b, true, nil
}

func (p *Port) Close() error {
	if p.storage != nil {
		return p.storage.Close()
	}
	return nil
}
