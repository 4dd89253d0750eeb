// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"testing"
)

func TestCRC(t *testing.T) {
	var crc CRC
	crc.Reset()
	crc.PushBytes([]byte{0x02, 0x07})

	if crc.Value() != 0x1241 {
		t.Fatalf("crc expected %v, actual %v", 0x1241, crc.Value())
	}
}

func TestCRCPushByte(t *testing.T) {
	var a, b CRC
	a.Reset().PushByte(0x02).PushByte(0x07)
	b.Reset().PushBytes([]byte{0x02, 0x07})

	if a.Value() != b.Value() {
		t.Fatalf("PushByte %#04x != PushBytes %#04x", a.Value(), b.Value())
	}
}

// A frame with its own little-endian CRC appended folds to 0.
func TestCRCVerifyZero(t *testing.T) {
	frames := [][]byte{
		{0x11, 0x01, 0x00, 0x13, 0x00, 0x03, 0x8F, 0x5E},
		{0x11, 0x03, 0x00, 0x6B, 0x00, 0x01, 0xF7, 0x46},
		{0x11, 0x83, 0x02, 0xC1, 0x34},
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A},
	}
	for _, frame := range frames {
		var crc CRC
		crc.Reset().PushBytes(frame)
		if crc.Value() != 0 {
			t.Errorf("frame % X: crc expected 0, actual %#04x", frame, crc.Value())
		}
	}
}

func TestCRCReset(t *testing.T) {
	var crc CRC
	crc.Reset().PushBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	crc.Reset()
	if crc.Value() != 0xFFFF {
		t.Fatalf("crc after reset expected 0xFFFF, actual %#04x", crc.Value())
	}
}
