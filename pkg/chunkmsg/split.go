// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"fmt"

	"github.com/dtn7/chunkmsg/pkg/bitfield"
)

// Split data into chunks of size bytes. The last chunk holds the remainder. An empty input results in
// exactly one empty chunk, so every message has at least a chunk with index zero.
//
// The chunks alias data.
func Split(data []byte, size int) ([][]byte, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	if len(data) == 0 {
		return [][]byte{{}}, nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end:end])
	}
	return chunks, nil
}

// Joiner accumulates the chunks of a message in their order.
type Joiner struct {
	slots    [][]byte
	received *bitfield.Bitfield
	size     int
}

// NewJoiner for a message of length chunks.
func NewJoiner(length uint64) *Joiner {
	return &Joiner{
		slots:    make([][]byte, length),
		received: bitfield.New(uint(length)),
	}
}

// Len is the number of chunks of this message.
func (j *Joiner) Len() uint64 {
	return uint64(len(j.slots))
}

// Set stores or overwrites the chunk for an index.
func (j *Joiner) Set(index uint64, data []byte) error {
	if index >= j.Len() {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, j.Len())
	}

	j.size += len(data) - len(j.slots[index])
	j.slots[index] = data
	j.received.Set(uint(index), true)
	return nil
}

// Complete reports if every chunk was set at least once.
func (j *Joiner) Complete() bool {
	return j.received.Full()
}

// Missing returns a Bitfield of all chunk indices which were not yet set.
func (j *Joiner) Missing() *bitfield.Bitfield {
	return j.received.Invert()
}

// Value concatenates all chunks. This fails for an incomplete Joiner.
func (j *Joiner) Value() ([]byte, error) {
	if !j.Complete() {
		return nil, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, j.received.Count(), j.Len())
	}

	data := make([]byte, 0, j.size)
	for _, slot := range j.slots {
		data = append(data, slot...)
	}
	return data, nil
}
