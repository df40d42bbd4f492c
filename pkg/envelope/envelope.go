// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package envelope wraps named files for their transfer as a single message.
package envelope

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dtn7/cboring"
)

// Envelope is a named blob of data, e.g., a file's base name and content.
type Envelope struct {
	Name string
	Data []byte
}

// New creates an Envelope, reducing the name to its base name.
func New(name string, data []byte) Envelope {
	return Envelope{
		Name: baseName(name),
		Data: data,
	}
}

// baseName strips any directories from a name. Names referring to a directory are replaced by "_".
func baseName(name string) string {
	switch base := filepath.Base(filepath.Clean("/" + name)); base {
	case "/", ".", "..":
		return "_"
	default:
		return base
	}
}

// MarshalCbor creates a CBOR array of two elements: the text string name and the byte string data.
func (env *Envelope) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(env.Name, w); err != nil {
		return err
	}
	return cboring.WriteByteString(env.Data, w)
}

// UnmarshalCbor reads a CBOR array back into an Envelope. The name is reduced to its base name.
func (env *Envelope) UnmarshalCbor(r io.Reader) (err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		return arrErr
	} else if n != 2 {
		return fmt.Errorf("Envelope expected array length of 2, got %d elements", n)
	}

	var name string
	if name, err = cboring.ReadTextString(r); err != nil {
		return
	}
	env.Name = baseName(name)

	env.Data, err = cboring.ReadByteString(r)
	return
}

// Bytes returns the CBOR representation of this Envelope.
func (env *Envelope) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.Marshal(env, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse an Envelope from its CBOR representation.
func Parse(data []byte) (env Envelope, err error) {
	err = cboring.Unmarshal(&env, bytes.NewReader(data))
	return
}

func (env Envelope) String() string {
	return fmt.Sprintf("Envelope(%s, %d bytes)", env.Name, len(env.Data))
}
