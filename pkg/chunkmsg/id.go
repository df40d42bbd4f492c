// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"encoding/hex"
	"fmt"
)

// MaxIDLength is the longest message identifier, limited by the header's seven bit length field.
const MaxIDLength = 128

// checkID validates the length of a message identifier.
func checkID(id []byte) error {
	if l := len(id); l < 1 || l > MaxIDLength {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidID, l)
	}
	return nil
}

// idKey is the map key for a message identifier.
func idKey(id []byte) string {
	return hex.EncodeToString(id)
}

// shortKey abbreviates an idKey for logging, e.g., "0a1b2..ff".
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:5] + ".." + key[len(key)-2:]
	}
	return key
}
