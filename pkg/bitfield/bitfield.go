// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bitfield provides a fixed-length bit vector whose byte representation is used on the wire.
//
// Bit i is stored in byte i/8, starting with the most significant bit. Thus, the bits 0 and 9 of a
// Bitfield of length 16 result in the bytes 0x80 0x40.
package bitfield

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Bitfield is a fixed-length sequence of boolean flags.
type Bitfield struct {
	bits   *bitset.BitSet
	length uint
}

// New creates a Bitfield of the given length with all bits cleared.
func New(length uint) *Bitfield {
	return &Bitfield{
		bits:   bitset.New(length),
		length: length,
	}
}

// FromBytes creates a Bitfield from its byte representation. The length is eight times the number of bytes.
func FromBytes(data []byte) *Bitfield {
	bf := New(uint(len(data)) * 8)
	for i, b := range data {
		for j := uint(0); j < 8; j++ {
			if b&(0x80>>j) != 0 {
				bf.bits.Set(uint(i)*8 + j)
			}
		}
	}
	return bf
}

// Len returns the number of addressable bits.
func (bf *Bitfield) Len() uint {
	return bf.length
}

// Get reports whether bit i is set. Bits outside the Bitfield are never set.
func (bf *Bitfield) Get(i uint) bool {
	return i < bf.length && bf.bits.Test(i)
}

// Set bit i to v. Indices outside the Bitfield are ignored.
func (bf *Bitfield) Set(i uint, v bool) {
	if i >= bf.length {
		return
	}
	bf.bits.SetTo(i, v)
}

// Count returns the number of set bits.
func (bf *Bitfield) Count() uint {
	return bf.bits.Count()
}

// Full reports whether every bit is set.
func (bf *Bitfield) Full() bool {
	return bf.Count() == bf.length
}

// Invert returns a new Bitfield of the same length with every bit flipped.
func (bf *Bitfield) Invert() *Bitfield {
	return &Bitfield{
		bits:   bf.bits.Complement(),
		length: bf.length,
	}
}

// Bytes returns the byte representation, ceil(Len/8) bytes long. Trailing padding bits are cleared.
func (bf *Bitfield) Bytes() []byte {
	data := make([]byte, (bf.length+7)/8)
	for i, ok := bf.bits.NextSet(0); ok && i < bf.length; i, ok = bf.bits.NextSet(i + 1) {
		data[i/8] |= 0x80 >> (i % 8)
	}
	return data
}

// Indices lists all set bits in ascending order.
func (bf *Bitfield) Indices() []uint {
	indices := make([]uint, 0, bf.Count())
	for i, ok := bf.bits.NextSet(0); ok && i < bf.length; i, ok = bf.bits.NextSet(i + 1) {
		indices = append(indices, i)
	}
	return indices
}

func (bf *Bitfield) String() string {
	return fmt.Sprintf("Bitfield(%d/%d)", bf.Count(), bf.length)
}
