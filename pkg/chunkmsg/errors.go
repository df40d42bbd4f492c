// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import "errors"

var (
	// ErrInvalidID indicates a message identifier with a length outside of [1, 128].
	ErrInvalidID = errors.New("message id must be between 1 and 128 bytes long")

	// ErrInvalidFrame is wrapped by every parsing error.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrFrameTooSmall indicates a maximum frame size which cannot hold a single payload byte.
	ErrFrameTooSmall = errors.New("maximum frame size leaves no room for payload")

	// ErrTooManyChunks indicates a message which would be split in more chunks than allowed.
	ErrTooManyChunks = errors.New("message exceeds the maximum number of chunks")

	// ErrIndexOutOfRange indicates a chunk index beyond a message's last index.
	ErrIndexOutOfRange = errors.New("chunk index out of range")

	// ErrIncomplete is returned when accessing the value of an incomplete Joiner.
	ErrIncomplete = errors.New("message is incomplete")

	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("engine is closed")
)
