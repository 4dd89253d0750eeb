// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	serialIdleTimeout = 60 * time.Second
)

// Port is the byte-level capability the framer drives: whole-frame
// writes, byte-at-a-time reads bounded by a timeout.
type Port interface {
	io.Writer

	// ReadByte waits up to timeout for one byte. ok is false when the
	// window elapsed with no byte; that is frame termination, not an
	// error.
	ReadByte(timeout time.Duration) (b byte, ok bool, err error)

	Close() error
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	IdleTimeout time.Duration

	mu sync.Mutex
	// port is the open device, nil until first use.
	port         Port
	lastActivity time.Time
	closeTimer   *time.Timer
}

func (mb *serialPort) Connect(ctx context.Context) (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (mb *serialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if mb.port == nil {
		port, err := serial.Open(&mb.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", mb.Config.Address, err)
		}
		mb.port = &pollingPort{port: port}
	}
	return nil
}

func (mb *serialPort) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (mb *serialPort) close() (err error) {
	if mb.port != nil {
		err = mb.port.Close()
		mb.port = nil
	}
	return
}

func (mb *serialPort) startCloseTimer() {
	if mb.IdleTimeout <= 0 {
		return
	}
	if mb.closeTimer == nil {
		mb.closeTimer = time.AfterFunc(mb.IdleTimeout, mb.closeIdle)
	} else {
		mb.closeTimer.Reset(mb.IdleTimeout)
	}
}

// closeIdle closes the connection if last activity is passed behind IdleTimeout.
func (mb *serialPort) closeIdle() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(mb.lastActivity); idle >= mb.IdleTimeout {
		slog.Debug("modbus: closing connection due to idle timeout", "idle", idle)
		mb.close()
	}
}

// pollingPort adapts an open serial device to the Port capability. The
// device is opened with Config.Timeout as its per-read slice; ReadByte
// repeats short reads until a byte arrives or the deadline passes.
type pollingPort struct {
	port io.ReadWriteCloser
}

func (p *pollingPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *pollingPort) ReadByte(timeout time.Duration) (byte, bool, error) {
	deadline := time.Now().Add(timeout)
	var buf [1]byte
	for {
		n, err := p.port.Read(buf[:])
		if n == 1 {
			return buf[0], true, nil
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return 0, false, err
		}
		if !time.Now().Before(deadline) {
			return 0, false, nil
		}
	}
}

func (p *pollingPort) Close() error {
	return p.port.Close()
}
