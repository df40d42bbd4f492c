// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package messenger binds a chunkmsg.Engine to a transport.Transport.
//
// A Messenger receives frames from its Transport in its own goroutine and passes them to the Engine.
// Reassembled messages are reported through a channel. Based on the broadcasting nature of some
// Transports, neither addressing specific recipients nor attributing senders is possible.
package messenger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/dtn7/chunkmsg/pkg/chunkmsg"
	"github.com/dtn7/chunkmsg/pkg/transport"
)

// messageQueueSize is the number of buffered deliveries before the receiving goroutine blocks.
const messageQueueSize = 64

// uuidLength is the length of a generated message ID.
const uuidLength = len(uuid.UUID{})

// DefaultMaxMessageSize limits decompressed incoming messages.
const DefaultMaxMessageSize int64 = 64 << 20

// errMessageTooLarge is reported for decompressed messages exceeding the MaxMessageSize.
var errMessageTooLarge = errors.New("decompressed message exceeds the maximum message size")

// Message is a reassembled incoming message.
type Message struct {
	ID   []byte
	Data []byte
}

func (msg Message) String() string {
	return fmt.Sprintf("message(%s, %d bytes)", hex.EncodeToString(msg.ID), len(msg.Data))
}

// Config of a Messenger. All fields are optional.
type Config struct {
	// MaxFrameSize defaults to the Transport's MTU.
	MaxFrameSize int

	// Compress messages by xz before chunking. Both sides must agree on this setting.
	Compress bool

	ArmDelay     time.Duration
	TickInterval time.Duration
	OutgoingTTL  time.Duration
	IncomingTTL  time.Duration
	StallTimeout time.Duration

	// MaxChunks is further limited, so that a NEED frame for the message's ID fits into a single frame.
	MaxChunks uint64

	// MaxMessageSize limits decompressed incoming messages, defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	Clock      clock.Clock
	Registerer prometheus.Registerer
}

// Messenger sends and receives arbitrarily large messages over a Transport.
type Messenger struct {
	transport transport.Transport
	engine    *chunkmsg.Engine

	frameSize      int
	chunkLimit     uint64
	compress       bool
	maxMessageSize int64

	msgChan chan Message

	closedSyn chan struct{}
	closedAck chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// maxChunks for a frame size, so that a NEED frame for an ID of idLen bytes does not exceed a frame.
func maxChunks(frameSize int, limit uint64, idLen int) uint64 {
	if limit == 0 {
		limit = chunkmsg.DefaultMaxChunks
	}

	needBody := frameSize - 1 - idLen
	if needBody < 1 {
		return limit
	}

	if fit := 8 * uint64(needBody); fit < limit {
		return fit
	}
	return limit
}

// New creates a Messenger, wrapping around the given Transport. It must be started afterwards.
func New(t transport.Transport, conf Config) (*Messenger, error) {
	frameSize := conf.MaxFrameSize
	if frameSize == 0 {
		frameSize = t.Mtu()
	}

	maxMessageSize := conf.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	m := &Messenger{
		transport:      t,
		frameSize:      frameSize,
		chunkLimit:     conf.MaxChunks,
		compress:       conf.Compress,
		maxMessageSize: maxMessageSize,
		msgChan:        make(chan Message, messageQueueSize),
		closedSyn:      make(chan struct{}),
		closedAck:      make(chan struct{}),
	}

	engine, err := chunkmsg.NewEngine(chunkmsg.Config{
		MaxFrameSize: frameSize,
		Incoming:     m.incoming,
		Outgoing:     t.Send,
		ArmDelay:     conf.ArmDelay,
		TickInterval: conf.TickInterval,
		OutgoingTTL:  conf.OutgoingTTL,
		IncomingTTL:  conf.IncomingTTL,
		StallTimeout: conf.StallTimeout,
		MaxChunks:    maxChunks(frameSize, conf.MaxChunks, uuidLength),
		Clock:        conf.Clock,
		Registerer:   conf.Registerer,
	})
	if err != nil {
		return nil, err
	}
	m.engine = engine

	return m, nil
}

// Start the receiving goroutine. Only the first call has an effect, none after Close.
func (m *Messenger) Start() {
	m.startOnce.Do(func() {
		go m.handler()
	})
}

func (m *Messenger) handler() {
	defer close(m.closedAck)

	logger := log.WithField("messenger", m)

	for {
		select {
		case <-m.closedSyn:
			logger.Info("Received close signal, stopping handler")
			return

		default:
			if frame, err := m.transport.Receive(); err == io.EOF {
				logger.Info("Read EOF, stopping handler")
				return
			} else if err != nil {
				logger.WithError(err).Warn("Receiving frame from Transport errored")
			} else {
				m.engine.Read(frame)
			}
		}
	}
}

// incoming is the Engine's delivery callback.
func (m *Messenger) incoming(data, id []byte) {
	msg := Message{ID: id, Data: data}

	if m.compress {
		xzR, err := xz.NewReader(bytes.NewReader(data))
		if err == nil {
			msg.Data, err = io.ReadAll(io.LimitReader(xzR, m.maxMessageSize+1))
		}
		if err == nil && int64(len(msg.Data)) > m.maxMessageSize {
			err = fmt.Errorf("%w: more than %d bytes", errMessageTooLarge, m.maxMessageSize)
		}
		if err != nil {
			log.WithField("messenger", m).WithField("message", msg).WithError(err).Warn(
				"Decompressing message errored, dropping it")
			return
		}
	}

	log.WithFields(log.Fields{
		"messenger": m,
		"message":   msg,
	}).Info("Messenger received message")

	select {
	case m.msgChan <- msg:
	case <-m.closedSyn:
	}
}

// Send a message under a new random ID, which is returned.
func (m *Messenger) Send(data []byte) ([]byte, error) {
	id := uuid.New()
	return id[:], m.SendWithID(data, id[:])
}

// SendWithID sends a message under a given ID. An outgoing message with the same ID is replaced.
func (m *Messenger) SendWithID(data, id []byte) error {
	if m.compress {
		var buf bytes.Buffer
		if xzW, err := xz.NewWriter(&buf); err != nil {
			return err
		} else if _, err = xzW.Write(data); err != nil {
			return err
		} else if err = xzW.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	if err := m.checkChunks(len(data), id); err != nil {
		return err
	}

	return m.engine.Send(data, id)
}

// checkChunks rejects messages whose NEED frame would not fit into a single frame for this ID.
// Invalid IDs and frame sizes are left to the Engine.
func (m *Messenger) checkChunks(dataLen int, id []byte) error {
	if len(id) < 1 || len(id) > chunkmsg.MaxIDLength {
		return nil
	}

	chunkSize := m.frameSize - (1 + len(id) + 2*binary.MaxVarintLen64)
	if chunkSize < 1 {
		return nil
	}

	chunks := uint64(1)
	if dataLen > 0 {
		chunks = uint64((dataLen + chunkSize - 1) / chunkSize)
	}

	if limit := maxChunks(m.frameSize, m.chunkLimit, len(id)); chunks > limit {
		return fmt.Errorf("%w: %d chunks for a %d byte ID, at most %d fit into a NEED frame",
			chunkmsg.ErrTooManyChunks, chunks, len(id), limit)
	}
	return nil
}

// Channel of reassembled messages. It is closed after Close.
func (m *Messenger) Channel() <-chan Message {
	return m.msgChan
}

// Stats of the underlying Engine.
func (m *Messenger) Stats() chunkmsg.Stats {
	return m.engine.Stats()
}

// Close the Messenger, its Engine and its Transport.
func (m *Messenger) Close() (err error) {
	m.closeOnce.Do(func() {
		close(m.closedSyn)
		m.engine.Close()

		var errs *multierror.Error
		if tErr := m.transport.Close(); tErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing transport: %w", tErr))
		}

		// A handler which was never started must not be waited for.
		m.startOnce.Do(func() {
			close(m.closedAck)
		})
		<-m.closedAck
		close(m.msgChan)

		err = errs.ErrorOrNil()
	})
	return
}

func (m *Messenger) String() string {
	return fmt.Sprintf("messenger(%v)", m.transport)
}
