// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

const (
	// max MODBUS RS232/RS485 ADU = 253 bytes + Server address (1 byte) + CRC (2 bytes) = 256 bytes
	aduMaxSize = modbus.PDUMaxSize + 3

	// defaultIdleBudget ends reception at the first inter-byte gap of
	// this length. 2 ms is a conservative floor for >=19200 baud; lower
	// rates get the 3.5-character frame delay instead.
	defaultIdleBudget = 2 * time.Millisecond
)

// Client is a Modbus RTU master framing PDUs onto a serial line.
type Client struct {
	serialPort

	// idleBudget is the inter-byte window after the first response byte.
	idleBudget time.Duration
}

// NewClient allocates and initializes an RTU Client. The port is opened
// lazily on the first transaction.
func NewClient(cfg config.SerialConfig) *Client {
	client := &Client{}

	// Map internal config to serial.Config
	client.serialPort.Config.Address = cfg.Device
	client.serialPort.Config.BaudRate = cfg.BaudRate
	client.serialPort.Config.DataBits = cfg.DataBits
	client.serialPort.Config.StopBits = cfg.StopBits
	client.serialPort.Config.Parity = cfg.Parity

	client.idleBudget = cfg.IdleBudget
	if client.idleBudget <= 0 {
		client.idleBudget = idleBudget(cfg.BaudRate)
	}
	// The device read slice doubles as the idle window.
	client.serialPort.Config.Timeout = client.idleBudget

	client.IdleTimeout = serialIdleTimeout
	return client
}

// NewClientWithPort frames over an already open port. Used for loopback
// and test ports; the serial device path never opens.
func NewClientWithPort(port Port) *Client {
	client := &Client{}
	client.serialPort.port = port
	client.idleBudget = defaultIdleBudget
	return client
}

// idleBudget returns the inter-byte idle window for a baud rate. At and
// below 19200 baud the Modbus 3.5-character frame delay governs when it
// exceeds the 2 ms floor.
func idleBudget(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return defaultIdleBudget
	}
	frameDelay := time.Duration(35000000/baudRate) * time.Microsecond
	if frameDelay < defaultIdleBudget {
		return defaultIdleBudget
	}
	return frameDelay
}

// Command performs one request/response transaction. The response
// payload is returned as a subrange of response; response is written
// only after the request frame has left the port, so request and
// response may alias the same array.
func (mb *Client) Command(ctx context.Context, slaveID byte, functionCode byte, request []byte, response []byte, timeout time.Duration) ([]byte, error) {
	if 2+len(request)+2 > aduMaxSize {
		return nil, modbus.ErrRequestTooLarge
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(ctx); err != nil {
		return nil, err
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	var frame [aduMaxSize]byte
	frame[0] = slaveID
	frame[1] = functionCode
	copy(frame[2:], request)
	n := 2 + len(request)

	var sum crc.CRC
	sum.Reset().PushBytes(frame[:n])
	frame[n] = byte(sum.Value())
	frame[n+1] = byte(sum.Value() >> 8)
	n += 2

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(frame[:n]))
	if _, err := mb.port.Write(frame[:n]); err != nil {
		return nil, err
	}

	if timeout == 0 {
		// Broadcast: the bus stays silent, nothing to read.
		return nil, modbus.ErrTimeout
	}

	return mb.receive(ctx, slaveID, functionCode, response, timeout, frame[:])
}

// receive drives reception byte by byte until the first idle gap, then
// classifies the frame. Caller must hold the mutex. frame is scratch
// for the raw bytes, kept for the debug dump.
func (mb *Client) receive(ctx context.Context, slaveID byte, functionCode byte, response []byte, timeout time.Duration, frame []byte) ([]byte, error) {
	var sum crc.CRC
	sum.Reset()

	var (
		bad           bool
		exception     bool
		exceptionCode byte
	)

	budget := timeout
	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		b, ok, err := mb.port.ReadByte(budget)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		budget = mb.idleBudget

		i := n
		n++
		if i >= aduMaxSize {
			return nil, modbus.ErrBadFrame
		}
		frame[i] = b
		sum.PushByte(b)

		switch {
		case i == 0:
			if b != slaveID {
				bad = true
			}
		case i == 1:
			if b == functionCode|0x80 {
				exception = true
			} else if b != functionCode {
				bad = true
			}
		case exception:
			if i == 2 {
				exceptionCode = b
			}
		case i-2 < len(response):
			response[i-2] = b
		case i >= 4+len(response):
			// Response outgrew the expected shape.
			bad = true
		}
	}

	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(frame[:n]))

	switch {
	case n == 0:
		return nil, modbus.ErrTimeout
	case n < 4:
		return nil, modbus.ErrBadFrame
	case sum.Value() != 0:
		return nil, modbus.ErrBadCRC
	case exception:
		if n != 5 {
			return nil, modbus.ErrInvalidResponse
		}
		return nil, modbus.ExceptionError(exceptionCode)
	case bad:
		return nil, modbus.ErrInvalidResponse
	}
	return response[:n-4], nil
}
