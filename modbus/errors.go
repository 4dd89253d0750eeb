// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// Exception Codes returned by a slave inside an exception response.
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeNegativeAcknowledge                = 0x07
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

// Error is the closed set of protocol failures. Values below 0x100 are
// slave exception codes carried over the wire unchanged; the rest are
// produced locally by the codec and the framer.
type Error int

const (
	ErrIllegalFunction        Error = ExceptionCodeIllegalFunction
	ErrIllegalDataAddress     Error = ExceptionCodeIllegalDataAddress
	ErrIllegalDataValue       Error = ExceptionCodeIllegalDataValue
	ErrSlaveDeviceFailure     Error = ExceptionCodeServerDeviceFailure
	ErrAcknowledge            Error = ExceptionCodeAcknowledge
	ErrSlaveDeviceBusy        Error = ExceptionCodeServerDeviceBusy
	ErrNegativeAcknowledge    Error = ExceptionCodeNegativeAcknowledge
	ErrMemoryParityError      Error = ExceptionCodeMemoryParityError
	ErrGatewayPathUnavailable Error = ExceptionCodeGatewayPathUnavailable
	ErrGatewayNoResponse      Error = ExceptionCodeGatewayTargetDeviceFailedToRespond

	ErrTimeout         Error = 0x100
	ErrRequestTooLarge Error = 0x200
	ErrBadFrame        Error = 0x301
	ErrBadCRC          Error = 0x302
	ErrInvalidResponse Error = 0x303
)

var errorMessages = map[Error]string{
	ErrIllegalFunction:        "illegal function",
	ErrIllegalDataAddress:     "illegal data address",
	ErrIllegalDataValue:       "illegal data value",
	ErrSlaveDeviceFailure:     "slave device failure",
	ErrAcknowledge:            "acknowledge",
	ErrSlaveDeviceBusy:        "slave device busy",
	ErrNegativeAcknowledge:    "negative acknowledge",
	ErrMemoryParityError:      "memory parity error",
	ErrGatewayPathUnavailable: "gateway path unavailable",
	ErrGatewayNoResponse:      "gateway target device failed to respond",
	ErrTimeout:                "request timed out",
	ErrRequestTooLarge:        "request too large",
	ErrBadFrame:               "bad frame",
	ErrBadCRC:                 "crc mismatch",
	ErrInvalidResponse:        "invalid response",
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return "modbus: " + msg
	}
	return fmt.Sprintf("modbus: exception code 0x%02X", int(e))
}

// ExceptionError maps a slave exception code to its Error kind. Unknown
// codes are carried through numerically.
func ExceptionError(code byte) Error {
	return Error(code)
}
