// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport provides frame based transports for chunked messages.
//
// A Transport only guarantees the delivery of single frames up to its maximum transmission unit (MTU).
// Frames might get lost, duplicated or reordered.
package transport

import (
	"errors"
	"fmt"
)

// Transport is the interface for frame based links. Every Transport must be able to send and receive
// frames. The Mtu method indicates the maximum transmission unit (MTU) for outgoing frames.
type Transport interface {
	// Mtu returns the maximum transmission unit for this Transport.
	Mtu() int

	// Send transmits a frame over this Transport. This method might block.
	Send(frame []byte) error

	// Receive waits for the next frame to be received. This method blocks. After Close, io.EOF is returned.
	Receive() ([]byte, error)

	// Close this Transport. Furthermore, the Receive method should be interrupted.
	Close() error
}

// ErrFrameTooLarge is returned when sending a frame exceeding a Transport's MTU.
var ErrFrameTooLarge = errors.New("frame exceeds MTU")

// checkMtu returns an ErrFrameTooLarge based error for oversized frames.
func checkMtu(frame []byte, mtu int) error {
	if len(frame) > mtu {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(frame), mtu)
	}
	return nil
}
