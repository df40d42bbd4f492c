// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package chunkmsg transfers arbitrarily large messages over a transport which only delivers small frames.
//
// A sender splits a message into chunks, each fitting into one frame, and transmits the first chunk right
// away. A receiver reassembles the chunks and asks for missing ones by sending a NEED frame, carrying a
// bitfield of the requested chunk indices. Each frame starts with a one byte header, followed by the
// message's identifier.
//
//     0   1   2   3   4   5   6   7
//   +---+---+---+---+---+---+---+---+
//   |Typ|     ID Length - 1         |
//   +---+---+---+---+---+---+---+---+
//   |          ID (1-128 B)         |
//   +---+---+---+---+---+---+---+---+
//   |             Body              |
//
// A NEED frame's body is the bitfield. A CHUNK frame's body consists of two unsigned varints, the last
// index and the index of the enclosed chunk, followed by the chunk's payload.
//
// The Engine owns both the outgoing messages ("haves") and the incoming, incomplete messages ("needs").
// A timer periodically removes stale entries and re-requests missing chunks of stalled transfers.
package chunkmsg
