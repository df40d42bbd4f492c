// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bitfield

import (
	"bytes"
	"reflect"
	"testing"
)

func TestBitfieldBytes(t *testing.T) {
	tests := []struct {
		length uint
		set    []uint
		data   []byte
	}{
		{0, nil, []byte{}},
		{1, []uint{0}, []byte{0x80}},
		{8, []uint{0, 7}, []byte{0x81}},
		{16, []uint{0, 9}, []byte{0x80, 0x40}},
		{10, []uint{1, 8, 9}, []byte{0x40, 0xC0}},
	}

	for _, test := range tests {
		bf := New(test.length)
		for _, i := range test.set {
			bf.Set(i, true)
		}

		if data := bf.Bytes(); !bytes.Equal(data, test.data) {
			t.Fatalf("Bitfield %v has bytes %x instead of %x", test.set, data, test.data)
		}
		if c := bf.Count(); c != uint(len(test.set)) {
			t.Fatalf("Bitfield %v has %d bits set", test.set, c)
		}
	}
}

func TestBitfieldFromBytes(t *testing.T) {
	bf := FromBytes([]byte{0xA0, 0x01})

	if l := bf.Len(); l != 16 {
		t.Fatalf("Length is %d, expected 16", l)
	}
	if indices := bf.Indices(); !reflect.DeepEqual(indices, []uint{0, 2, 15}) {
		t.Fatalf("Indices are %v", indices)
	}
	if data := bf.Bytes(); !bytes.Equal(data, []byte{0xA0, 0x01}) {
		t.Fatalf("Bytes are %x", data)
	}
}

func TestBitfieldBounds(t *testing.T) {
	bf := New(4)
	bf.Set(4, true)
	bf.Set(100, true)

	if bf.Count() != 0 {
		t.Fatalf("Out of range bits were set: %v", bf)
	}
	if bf.Get(100) {
		t.Fatal("Out of range bit reported as set")
	}

	bf.Set(3, true)
	bf.Set(3, false)
	if bf.Get(3) {
		t.Fatal("Cleared bit is still set")
	}
}

func TestBitfieldInvert(t *testing.T) {
	bf := New(10)
	bf.Set(0, true)
	bf.Set(5, true)

	inv := bf.Invert()
	if inv.Len() != 10 {
		t.Fatalf("Inverted length is %d", inv.Len())
	}
	if !reflect.DeepEqual(inv.Indices(), []uint{1, 2, 3, 4, 6, 7, 8, 9}) {
		t.Fatalf("Inverted indices are %v", inv.Indices())
	}
	if data := inv.Bytes(); !bytes.Equal(data, []byte{0x7B, 0xC0}) {
		t.Fatalf("Inverted bytes are %x", data)
	}

	// The original must stay untouched.
	if !reflect.DeepEqual(bf.Indices(), []uint{0, 5}) {
		t.Fatalf("Original changed to %v", bf.Indices())
	}
}

func TestBitfieldFull(t *testing.T) {
	bf := New(3)
	for i := uint(0); i < 3; i++ {
		if bf.Full() {
			t.Fatalf("Bitfield full after %d bits", i)
		}
		bf.Set(i, true)
	}
	if !bf.Full() {
		t.Fatal("Bitfield is not full")
	}

	// Setting a bit twice must not be counted twice.
	bf.Set(1, true)
	if c := bf.Count(); c != 3 {
		t.Fatalf("Count is %d", c)
	}
}
