// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"time"
)

// Commander carries one Modbus transaction over some transport. The
// codec depends on nothing else; alternate framings (TCP/MBAP) would
// implement the same capability.
type Commander interface {
	// Command sends one request PDU (function code and payload passed
	// separately) to the addressed slave and returns the response
	// payload as a subrange of response, with slave id, function code
	// and integrity fields already stripped and verified.
	//
	// request and response may alias the same backing array. An
	// implementation must not store into response before the request
	// has been fully transmitted.
	//
	// A timeout of 0 requests broadcast semantics: transmit, skip
	// reception, return modbus.ErrTimeout.
	Command(ctx context.Context, slaveID byte, functionCode byte, request []byte, response []byte, timeout time.Duration) ([]byte, error)

	// Connect opens the underlying transport. Commanders also connect
	// lazily on first Command; an explicit Connect surfaces
	// configuration errors early.
	Connect(ctx context.Context) error

	Close() error
}
