// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// have is an outgoing message, available for (re)transmission.
type have struct {
	id       []byte
	chunks   [][]byte
	accessed time.Time
}

func (h *have) lastIndex() uint64 {
	return uint64(len(h.chunks) - 1)
}

// need is an incoming message under reassembly.
type need struct {
	id       []byte
	joiner   *Joiner
	modified time.Time
}

// request creates a NEED frame for all missing chunks.
func (n *need) request() NeedFrame {
	return NeedFrame{
		ID:        n.id,
		Requested: n.joiner.Missing(),
	}
}

type delivery struct {
	data []byte
	id   []byte
}

// outbox collects the effects of a state transition. It is flushed after the Engine's mutex was released.
type outbox struct {
	frames     []Frame
	deliveries []delivery
}

// Stats is a snapshot of an Engine's stores.
type Stats struct {
	Haves int
	Needs int
}

// Engine is the protocol state machine for both sending and receiving chunked messages.
//
// An Engine is safe for concurrent use. Its callbacks are never invoked while the internal lock is held,
// so they might call back into the Engine.
type Engine struct {
	config  Config
	metrics *metrics

	haves map[string]*have
	needs map[string]*need
	timer *clock.Timer

	closed bool
	mutex  sync.Mutex
}

// NewEngine creates a new Engine based on the given Config.
func NewEngine(config Config) (*Engine, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: config,
		haves:  make(map[string]*have),
		needs:  make(map[string]*need),
	}
	e.metrics = newMetrics(e)

	if config.Registerer != nil {
		if err := e.metrics.register(config.Registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return e, nil
}

// chunkSize for a message ID, reserving the maximum varint size for both indices.
func (e *Engine) chunkSize(id []byte) int {
	return e.config.MaxFrameSize - (headerSize + len(id) + 2*maxVarintSize)
}

// Send offers a message under an ID. Its first chunk is transmitted immediately; all others must be
// requested by the receiver. An existing outgoing message with the same ID is replaced.
//
// An error of the Outgoing callback is returned, but the message stays available for requests.
func (e *Engine) Send(data, id []byte) error {
	if err := checkID(id); err != nil {
		return err
	}

	size := e.chunkSize(id)
	if size < 1 {
		return fmt.Errorf("%w: %d bytes for a %d byte ID", ErrFrameTooSmall, e.config.MaxFrameSize, len(id))
	}

	chunks, err := Split(append([]byte(nil), data...), size)
	if err != nil {
		return err
	}
	if n := uint64(len(chunks)); n > e.config.MaxChunks {
		return fmt.Errorf("%w: %d > %d", ErrTooManyChunks, n, e.config.MaxChunks)
	}

	h := &have{
		id:     append([]byte(nil), id...),
		chunks: chunks,
	}
	key := idKey(h.id)

	var out outbox

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}

	h.accessed = e.config.Clock.Now()
	e.haves[key] = h
	out.frames = append(out.frames, ChunkFrame{
		ID:        h.id,
		LastIndex: h.lastIndex(),
		Index:     0,
		Payload:   h.chunks[0],
	})
	e.arm(e.config.ArmDelay)
	e.mutex.Unlock()

	e.metrics.messagesSent.Inc()
	log.WithFields(log.Fields{
		"message": shortKey(key),
		"size":    len(data),
		"chunks":  len(chunks),
	}).Debug("Offering message, sent first chunk")

	return e.flush(&out)
}

// Read processes a received frame. Unparsable frames are dropped.
func (e *Engine) Read(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		e.metrics.framesInvalid.Inc()
		log.WithError(err).WithField("size", len(data)).Debug("Dropping unparsable frame")
		return
	}

	e.metrics.framesReceived.WithLabelValues(frame.Type().String()).Inc()

	var out outbox

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}

	switch frame := frame.(type) {
	case NeedFrame:
		e.onNeed(frame, &out)
	case ChunkFrame:
		e.onChunk(frame, &out)
	}
	e.mutex.Unlock()

	if err := e.flush(&out); err != nil {
		log.WithError(err).WithField("frame", frame).Warn("Transmitting response frames errored")
	}
}

// onNeed answers a NEED frame by sending each requested chunk. The caller must hold the mutex.
func (e *Engine) onNeed(f NeedFrame, out *outbox) {
	key := idKey(f.ID)
	logger := log.WithField("message", shortKey(key))

	h, ok := e.haves[key]
	if !ok {
		logger.Debug("Received chunk request for an unknown message")
		return
	}

	last := h.lastIndex()
	for _, i := range f.Requested.Indices() {
		if uint64(i) > last {
			break
		}

		out.frames = append(out.frames, ChunkFrame{
			ID:        h.id,
			LastIndex: last,
			Index:     uint64(i),
			Payload:   h.chunks[i],
		})
	}

	logger.WithField("chunks", len(out.frames)).Debug("Received chunk request")

	h.accessed = e.config.Clock.Now()
	e.arm(e.config.ArmDelay)
}

// onChunk stores a received chunk and either delivers the completed message or, for a new message,
// requests all missing chunks. The caller must hold the mutex.
func (e *Engine) onChunk(f ChunkFrame, out *outbox) {
	key := idKey(f.ID)
	logger := log.WithFields(log.Fields{
		"message": shortKey(key),
		"index":   f.Index,
		"last":    f.LastIndex,
	})

	n, known := e.needs[key]
	if !known {
		if f.LastIndex >= e.config.MaxChunks {
			logger.Debug("Dropping chunk of a message exceeding the chunk limit")
			return
		}
		if f.Index > f.LastIndex {
			logger.Debug("Dropping chunk with an index beyond its last index")
			return
		}

		n = &need{
			id:     append([]byte(nil), f.ID...),
			joiner: NewJoiner(f.LastIndex + 1),
		}
		e.needs[key] = n
	}

	if err := n.joiner.Set(f.Index, append([]byte(nil), f.Payload...)); err != nil {
		logger.WithError(err).Debug("Dropping chunk")
		return
	}
	n.modified = e.config.Clock.Now()

	logger.Debug("Received chunk")

	if n.joiner.Complete() {
		if data, err := n.joiner.Value(); err != nil {
			logger.WithError(err).Warn("Assembling complete message errored")
		} else {
			out.deliveries = append(out.deliveries, delivery{data: data, id: n.id})
			e.metrics.messagesDelivered.Inc()
			logger.WithField("size", len(data)).Info("Received message")
		}
		delete(e.needs, key)
	} else if !known {
		out.frames = append(out.frames, n.request())
		logger.Debug("Requesting remaining chunks")
	}

	e.arm(e.config.ArmDelay)
}

// flush transmits the collected frames and delivers completed messages afterwards.
func (e *Engine) flush(out *outbox) error {
	var errs *multierror.Error

	for _, f := range out.frames {
		data, err := f.MarshalBinary()
		if err == nil {
			err = e.config.Outgoing(data)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%v: %w", f, err))
			continue
		}

		e.metrics.framesSent.WithLabelValues(f.Type().String()).Inc()
	}

	for _, d := range out.deliveries {
		e.config.Incoming(d.data, d.id)
	}

	return errs.ErrorOrNil()
}

// Stats returns the current number of outgoing and incoming messages.
func (e *Engine) Stats() Stats {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return Stats{
		Haves: len(e.haves),
		Needs: len(e.needs),
	}
}

// Close stops the cleanup timer. Afterwards, the Engine ignores all frames and refuses to send.
func (e *Engine) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
}
