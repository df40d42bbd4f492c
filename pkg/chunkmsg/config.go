// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultArmDelay is the delay between the last store mutation and the next cleanup.
	DefaultArmDelay = 5 * time.Second

	// DefaultTickInterval is the cleanup interval while messages are pending.
	DefaultTickInterval = 10 * time.Second

	// DefaultOutgoingTTL is the time an outgoing message is kept without being requested.
	DefaultOutgoingTTL = 60 * time.Second

	// DefaultIncomingTTL is the time an incomplete incoming message is kept without receiving a chunk.
	DefaultIncomingTTL = 60 * time.Second

	// DefaultStallTimeout is the time without progress after which missing chunks are requested again.
	DefaultStallTimeout = 10 * time.Second

	// DefaultMaxChunks limits the number of chunks of both outgoing and incoming messages.
	DefaultMaxChunks uint64 = 1 << 16
)

// minFrameSize is the smallest MaxFrameSize allowing a one byte ID and a one byte payload.
const minFrameSize = headerSize + 1 + 2*maxVarintSize + 1

// Config of an Engine. Only MaxFrameSize, Incoming and Outgoing are mandatory.
type Config struct {
	// MaxFrameSize is the transport's frame size ceiling. No CHUNK frame will exceed it.
	MaxFrameSize int

	// Incoming is called once for each reassembled message.
	Incoming func(data, id []byte)

	// Outgoing is called for each frame to be transmitted. Errors are logged; the protocol recovers
	// from lost frames.
	Outgoing func(frame []byte) error

	ArmDelay     time.Duration
	TickInterval time.Duration
	OutgoingTTL  time.Duration
	IncomingTTL  time.Duration
	StallTimeout time.Duration

	MaxChunks uint64

	// Clock drives the cleanup timer; defaults to the wall clock.
	Clock clock.Clock

	// Registerer for the Engine's metrics. Metrics are still collected if nil.
	Registerer prometheus.Registerer
}

// withDefaults fills all optional zero values.
func (conf Config) withDefaults() Config {
	if conf.ArmDelay == 0 {
		conf.ArmDelay = DefaultArmDelay
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = DefaultTickInterval
	}
	if conf.OutgoingTTL == 0 {
		conf.OutgoingTTL = DefaultOutgoingTTL
	}
	if conf.IncomingTTL == 0 {
		conf.IncomingTTL = DefaultIncomingTTL
	}
	if conf.StallTimeout == 0 {
		conf.StallTimeout = DefaultStallTimeout
	}
	if conf.MaxChunks == 0 {
		conf.MaxChunks = DefaultMaxChunks
	}
	if conf.Clock == nil {
		conf.Clock = clock.New()
	}
	return conf
}

// validate returns all configuration errors at once.
func (conf Config) validate() error {
	var errs *multierror.Error

	if conf.MaxFrameSize < minFrameSize {
		errs = multierror.Append(errs, fmt.Errorf("%w: %d < %d", ErrFrameTooSmall, conf.MaxFrameSize, minFrameSize))
	}
	if conf.Incoming == nil {
		errs = multierror.Append(errs, fmt.Errorf("incoming callback is missing"))
	}
	if conf.Outgoing == nil {
		errs = multierror.Append(errs, fmt.Errorf("outgoing callback is missing"))
	}

	for name, d := range map[string]time.Duration{
		"arm delay":     conf.ArmDelay,
		"tick interval": conf.TickInterval,
		"outgoing TTL":  conf.OutgoingTTL,
		"incoming TTL":  conf.IncomingTTL,
		"stall timeout": conf.StallTimeout,
	} {
		if d < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s is negative: %v", name, d))
		}
	}

	return errs.ErrorOrNil()
}
