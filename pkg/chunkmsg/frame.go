// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dtn7/chunkmsg/pkg/bitfield"
)

// FrameType is the one bit type of a Frame, stored in the header's most significant bit.
type FrameType uint8

const (
	// NeedType identifies a NeedFrame.
	NeedType FrameType = 0

	// ChunkType identifies a ChunkFrame.
	ChunkType FrameType = 1
)

func (ft FrameType) String() string {
	switch ft {
	case NeedType:
		return "need"
	case ChunkType:
		return "chunk"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(ft))
	}
}

const (
	// headerSize is the fixed header, followed by the message ID.
	headerSize = 1

	// maxVarintSize is reserved for each index when calculating the chunk size.
	maxVarintSize = 10

	// maxIndex is the largest index which can be represented as a varint.
	maxIndex = 1<<63 - 1
)

// Frame is either a NeedFrame or a ChunkFrame.
type Frame interface {
	// Type of this Frame.
	Type() FrameType

	// MessageID this Frame refers to.
	MessageID() []byte

	// MarshalBinary serializes this Frame into its wire format.
	MarshalBinary() ([]byte, error)

	isFrame()
}

// NeedFrame requests all chunks of a message whose index bit is set.
type NeedFrame struct {
	ID        []byte
	Requested *bitfield.Bitfield
}

// ChunkFrame carries one chunk of a message.
type ChunkFrame struct {
	ID        []byte
	LastIndex uint64
	Index     uint64
	Payload   []byte
}

func (NeedFrame) Type() FrameType  { return NeedType }
func (ChunkFrame) Type() FrameType { return ChunkType }

func (f NeedFrame) MessageID() []byte  { return f.ID }
func (f ChunkFrame) MessageID() []byte { return f.ID }

func (NeedFrame) isFrame()  {}
func (ChunkFrame) isFrame() {}

// header creates the leading byte for a frame of the given type and ID.
func header(ft FrameType, id []byte) (byte, error) {
	if err := checkID(id); err != nil {
		return 0, err
	}
	return byte(ft)<<7 | byte(len(id)-1), nil
}

// MarshalBinary creates the NEED frame's wire format.
func (f NeedFrame) MarshalBinary() ([]byte, error) {
	if f.Requested == nil {
		return nil, fmt.Errorf("need frame without bitfield")
	}

	h, err := header(NeedType, f.ID)
	if err != nil {
		return nil, err
	}

	requested := f.Requested.Bytes()
	data := make([]byte, 0, headerSize+len(f.ID)+len(requested))
	data = append(data, h)
	data = append(data, f.ID...)
	data = append(data, requested...)
	return data, nil
}

// MarshalBinary creates the CHUNK frame's wire format.
func (f ChunkFrame) MarshalBinary() ([]byte, error) {
	if f.LastIndex > maxIndex || f.Index > maxIndex {
		return nil, fmt.Errorf("chunk index %d/%d exceeds varint range", f.Index, f.LastIndex)
	}

	h, err := header(ChunkType, f.ID)
	if err != nil {
		return nil, err
	}

	lastIndex := varint.ToUvarint(f.LastIndex)
	index := varint.ToUvarint(f.Index)

	data := make([]byte, 0, headerSize+len(f.ID)+len(lastIndex)+len(index)+len(f.Payload))
	data = append(data, h)
	data = append(data, f.ID...)
	data = append(data, lastIndex...)
	data = append(data, index...)
	data = append(data, f.Payload...)
	return data, nil
}

func (f NeedFrame) String() string {
	return fmt.Sprintf("NeedFrame(%s, %v)", shortKey(idKey(f.ID)), f.Requested)
}

func (f ChunkFrame) String() string {
	return fmt.Sprintf("ChunkFrame(%s, %d/%d, %d bytes)", shortKey(idKey(f.ID)), f.Index, f.LastIndex, len(f.Payload))
}

// ParseFrame deserializes a Frame. The returned Frame's slices alias data.
//
// Every malformed input results in an error wrapping ErrInvalidFrame.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidFrame)
	}

	var (
		ft    = FrameType(data[0] >> 7)
		idLen = int(data[0]&0x7F) + 1
		eoh   = headerSize + idLen
	)

	if len(data) <= eoh {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d byte ID and a body", ErrInvalidFrame, len(data), idLen)
	}

	id, body := data[headerSize:eoh], data[eoh:]

	switch ft {
	case NeedType:
		return NeedFrame{
			ID:        id,
			Requested: bitfield.FromBytes(body),
		}, nil

	case ChunkType:
		lastIndex, n, err := varint.FromUvarint(body)
		if err != nil {
			return nil, fmt.Errorf("%w: last index: %v", ErrInvalidFrame, err)
		}
		body = body[n:]

		index, n, err := varint.FromUvarint(body)
		if err != nil {
			return nil, fmt.Errorf("%w: index: %v", ErrInvalidFrame, err)
		}

		return ChunkFrame{
			ID:        id,
			LastIndex: lastIndex,
			Index:     index,
			Payload:   body[n:],
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %v", ErrInvalidFrame, ft)
	}
}
