// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/sim"
	"github.com/ffutop/modbus-master/internal/sim/persistence"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/transport"
	"github.com/ffutop/modbus-master/transport/rtu"
)

const usageText = `usage: modbus-master <port> [-s <baud>[N|E|O][1|2]] [-t <timeout>] [-c <config>] <slave_id> <command> <args...>

port is a serial device path, or sim:[<path>] for the built-in
simulated slave (volatile, or mmap-persisted at <path>).

commands:
  read-coils <address> <length>
  read-inputs <address> <length>
  read-holding-registers <address> <length>
  read-input-registers <address> <length>
  write-single-coil <address> <value>
  write-single-register <address> <value>
  write-multiple-coils <address> <value>...
  write-multiple-registers <address> <value>...
  write-coils <address> <value>...
  write-registers <address> <value>...
  read-file-record (<file> <address> <length>)...
  write-file-record (<file> <address> <value>... ;)...
  mask-write-register <address> <and_mask> <or_mask>
  read-write-registers <read-address> <read-length> <write-address> <write-value>...

Numbers are decimal or 0x-prefixed hex. Timeout is a duration such as
500ms or 2s. Slave ID 0 broadcasts writes without waiting for a reply.`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%s", usageText)
	}
	device := args[0]
	args = args[1:]

	var lineSpec, timeoutSpec, configFile string
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		if len(args) < 2 {
			return fmt.Errorf("option %s needs a value", args[0])
		}
		switch args[0] {
		case "-s":
			lineSpec = args[1]
		case "-t":
			timeoutSpec = args[1]
		case "-c":
			configFile = args[1]
		default:
			return fmt.Errorf("unknown option %s", args[0])
		}
		args = args[2:]
	}
	if len(args) < 2 {
		return fmt.Errorf("%s", usageText)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	cfg.Serial.Device = device
	if lineSpec != "" {
		if err := parseLineSpec(lineSpec, &cfg.Serial); err != nil {
			return err
		}
	}
	if timeoutSpec != "" {
		timeout, err := time.ParseDuration(timeoutSpec)
		if err != nil {
			return fmt.Errorf("bad timeout %q: %w", timeoutSpec, err)
		}
		cfg.Serial.Timeout = timeout
	}

	slaveID, err := parseUint16(args[0])
	if err != nil {
		return fmt.Errorf("bad slave id %q: %w", args[0], err)
	}
	if slaveID > 247 {
		return fmt.Errorf("slave id %d out of range 0..247", slaveID)
	}
	command := args[1]
	args = args[2:]

	commander, err := openPort(device, byte(slaveID), cfg.Serial)
	if err != nil {
		return err
	}
	defer commander.Close()

	client := modbus.NewClient(commander)
	return execute(client, byte(slaveID), cfg.Serial.Timeout, command, args)
}

// openPort selects between a real serial line and the in-process slave.
func openPort(device string, slaveID byte, cfg config.SerialConfig) (transport.Commander, error) {
	path, ok := strings.CutPrefix(device, "sim:")
	if !ok {
		return rtu.NewClient(cfg), nil
	}

	var storage persistence.Storage
	if path != "" {
		storage = persistence.NewMmapStorage(path)
	}
	simID := slaveID
	if simID == 0 {
		// Broadcasts still need a listening slave.
		simID = 1
	}
	port, err := sim.NewPort(simID, storage)
	if err != nil {
		return nil, err
	}
	return rtu.NewClientWithPort(port), nil
}

func execute(client *modbus.Client, slaveID byte, timeout time.Duration, command string, args []string) error {
	ctx := context.Background()

	// Broadcasts fire and forget; the framer reports timeout by contract.
	writeTimeout := timeout
	if slaveID == 0 {
		writeTimeout = 0
	}
	broadcastDone := func(err error) error {
		if slaveID == 0 && err == modbus.ErrTimeout {
			return nil
		}
		return err
	}

	switch command {
	case "read-coils", "read-inputs":
		address, count, err := parseReadArgs(args)
		if err != nil {
			return err
		}
		values := make([]byte, count)
		if command == "read-coils" {
			err = client.ReadCoilsBytes(ctx, slaveID, address, values, timeout)
		} else {
			err = client.ReadDiscreteInputsBytes(ctx, slaveID, address, values, timeout)
		}
		if err != nil {
			return err
		}
		for i, v := range values {
			fmt.Printf("0x%04X: %d\n", address+uint16(i), v)
		}
		return nil

	case "read-holding-registers", "read-input-registers":
		address, count, err := parseReadArgs(args)
		if err != nil {
			return err
		}
		values := make([]uint16, count)
		if command == "read-holding-registers" {
			err = client.ReadHoldingRegisters(ctx, slaveID, address, values, timeout)
		} else {
			err = client.ReadInputRegisters(ctx, slaveID, address, values, timeout)
		}
		if err != nil {
			return err
		}
		printRegisters(address, values)
		return nil

	case "write-single-coil":
		address, value, err := parseWriteArgs(args)
		if err != nil {
			return err
		}
		return broadcastDone(client.WriteSingleCoil(ctx, slaveID, address, value != 0, writeTimeout))

	case "write-single-register":
		address, value, err := parseWriteArgs(args)
		if err != nil {
			return err
		}
		return broadcastDone(client.WriteSingleRegister(ctx, slaveID, address, value, writeTimeout))

	case "write-multiple-coils", "write-coils":
		address, values, err := parseWriteListArgs(args)
		if err != nil {
			return err
		}
		bits := make([]bool, len(values))
		for i, v := range values {
			bits[i] = v != 0
		}
		if command == "write-coils" {
			return broadcastDone(client.WriteCoils(ctx, slaveID, address, bits, writeTimeout))
		}
		return broadcastDone(client.WriteMultipleCoils(ctx, slaveID, address, bits, writeTimeout))

	case "write-multiple-registers", "write-registers":
		address, values, err := parseWriteListArgs(args)
		if err != nil {
			return err
		}
		if command == "write-registers" {
			return broadcastDone(client.WriteRegisters(ctx, slaveID, address, values, writeTimeout))
		}
		return broadcastDone(client.WriteMultipleRegisters(ctx, slaveID, address, values, writeTimeout))

	case "read-file-record":
		groups, err := parseReadFileArgs(args)
		if err != nil {
			return err
		}
		if err := client.ReadFileRecord(ctx, slaveID, groups, timeout); err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Printf("FILE 0x%04X:\n", g.FileNumber)
			printRegisters(g.Address, g.Data)
		}
		return nil

	case "write-file-record":
		groups, err := parseWriteFileArgs(args)
		if err != nil {
			return err
		}
		return broadcastDone(client.WriteFileRecord(ctx, slaveID, groups, writeTimeout))

	case "mask-write-register":
		if len(args) != 3 {
			return fmt.Errorf("mask-write-register needs <address> <and_mask> <or_mask>")
		}
		address, err := parseUint16(args[0])
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[0], err)
		}
		andMask, err := parseUint16(args[1])
		if err != nil {
			return fmt.Errorf("bad and mask %q: %w", args[1], err)
		}
		orMask, err := parseUint16(args[2])
		if err != nil {
			return fmt.Errorf("bad or mask %q: %w", args[2], err)
		}
		return broadcastDone(client.MaskWriteRegister(ctx, slaveID, address, andMask, orMask, writeTimeout))

	case "read-write-registers":
		if len(args) < 4 {
			return fmt.Errorf("read-write-registers needs <read-address> <read-length> <write-address> <write-value>...")
		}
		readAddress, err := parseUint16(args[0])
		if err != nil {
			return fmt.Errorf("bad read address %q: %w", args[0], err)
		}
		readCount, err := parseUint16(args[1])
		if err != nil {
			return fmt.Errorf("bad read length %q: %w", args[1], err)
		}
		writeAddress, err := parseUint16(args[2])
		if err != nil {
			return fmt.Errorf("bad write address %q: %w", args[2], err)
		}
		writeValues := make([]uint16, len(args)-3)
		for i, a := range args[3:] {
			if writeValues[i], err = parseUint16(a); err != nil {
				return fmt.Errorf("bad write value %q: %w", a, err)
			}
		}
		readValues := make([]uint16, readCount)
		if err := client.ReadWriteRegisters(ctx, slaveID, readAddress, readValues, writeAddress, writeValues, timeout); err != nil {
			return err
		}
		printRegisters(readAddress, readValues)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", command, usageText)
	}
}

func printRegisters(address uint16, values []uint16) {
	for i, v := range values {
		fmt.Printf("0x%04X: 0x%04X (%d)\n", address+uint16(i), v, v)
	}
}

func parseReadArgs(args []string) (address, count uint16, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("read commands need <address> <length>")
	}
	if address, err = parseUint16(args[0]); err != nil {
		return 0, 0, fmt.Errorf("bad address %q: %w", args[0], err)
	}
	if count, err = parseUint16(args[1]); err != nil {
		return 0, 0, fmt.Errorf("bad length %q: %w", args[1], err)
	}
	return address, count, nil
}

func parseWriteArgs(args []string) (address, value uint16, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("single writes need <address> <value>")
	}
	if address, err = parseUint16(args[0]); err != nil {
		return 0, 0, fmt.Errorf("bad address %q: %w", args[0], err)
	}
	if value, err = parseUint16(args[1]); err != nil {
		return 0, 0, fmt.Errorf("bad value %q: %w", args[1], err)
	}
	return address, value, nil
}

func parseWriteListArgs(args []string) (address uint16, values []uint16, err error) {
	if len(args) < 2 {
		return 0, nil, fmt.Errorf("multiple writes need <address> <value>...")
	}
	if address, err = parseUint16(args[0]); err != nil {
		return 0, nil, fmt.Errorf("bad address %q: %w", args[0], err)
	}
	values = make([]uint16, len(args)-1)
	for i, a := range args[1:] {
		if values[i], err = parseUint16(a); err != nil {
			return 0, nil, fmt.Errorf("bad value %q: %w", a, err)
		}
	}
	return address, values, nil
}

func parseReadFileArgs(args []string) ([]modbus.ReadFileGroup, error) {
	if len(args) == 0 || len(args)%3 != 0 {
		return nil, fmt.Errorf("read-file-record needs (<file> <address> <length>) triples")
	}
	groups := make([]modbus.ReadFileGroup, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		file, err := parseUint16(args[i])
		if err != nil {
			return nil, fmt.Errorf("bad file number %q: %w", args[i], err)
		}
		address, err := parseUint16(args[i+1])
		if err != nil {
			return nil, fmt.Errorf("bad record address %q: %w", args[i+1], err)
		}
		count, err := parseUint16(args[i+2])
		if err != nil {
			return nil, fmt.Errorf("bad record length %q: %w", args[i+2], err)
		}
		groups = append(groups, modbus.ReadFileGroup{
			FileNumber: file,
			Address:    address,
			Data:       make([]uint16, count),
		})
	}
	return groups, nil
}

func parseWriteFileArgs(args []string) ([]modbus.WriteFileGroup, error) {
	var groups []modbus.WriteFileGroup
	for len(args) > 0 {
		if len(args) < 4 {
			return nil, fmt.Errorf("write-file-record groups are <file> <address> <value>... ;")
		}
		file, err := parseUint16(args[0])
		if err != nil {
			return nil, fmt.Errorf("bad file number %q: %w", args[0], err)
		}
		address, err := parseUint16(args[1])
		if err != nil {
			return nil, fmt.Errorf("bad record address %q: %w", args[1], err)
		}
		args = args[2:]

		var values []uint16
		for len(args) > 0 && args[0] != ";" {
			v, err := parseUint16(args[0])
			if err != nil {
				return nil, fmt.Errorf("bad record value %q: %w", args[0], err)
			}
			values = append(values, v)
			args = args[1:]
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("write-file-record group missing terminating ;")
		}
		args = args[1:]
		if len(values) == 0 {
			return nil, fmt.Errorf("write-file-record group has no values")
		}
		groups = append(groups, modbus.WriteFileGroup{FileNumber: file, Address: address, Data: values})
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("write-file-record needs at least one group")
	}
	return groups, nil
}

// parseLineSpec applies a combined line setting such as 9600N1 or 19200E2.
func parseLineSpec(s string, cfg *config.SerialConfig) error {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return fmt.Errorf("bad line setting %q", s)
	}
	baud, err := strconv.Atoi(s[:i])
	if err != nil {
		return fmt.Errorf("bad line setting %q: %w", s, err)
	}
	cfg.BaudRate = baud

	if i < len(s) {
		switch s[i] {
		case 'N', 'E', 'O':
			cfg.Parity = string(s[i])
			i++
		default:
			return fmt.Errorf("bad parity in line setting %q", s)
		}
	}
	if i < len(s) {
		switch s[i] {
		case '1', '2':
			cfg.StopBits = int(s[i] - '0')
			i++
		default:
			return fmt.Errorf("bad stop bits in line setting %q", s)
		}
	}
	if i != len(s) {
		return fmt.Errorf("bad line setting %q", s)
	}
	return nil
}

// parseUint16 accepts decimal or 0x-prefixed hex, bounded to 16 bits.
func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
