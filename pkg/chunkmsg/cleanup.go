// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// arm (re)schedules the next cleanup after delay, replacing a pending one. The caller must hold the mutex.
func (e *Engine) arm(delay time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.config.Clock.AfterFunc(delay, e.cleanup)
}

// cleanup removes stale messages and re-requests missing chunks of stalled incoming messages. While
// messages are left, the next cleanup is scheduled after the tick interval.
func (e *Engine) cleanup() {
	var out outbox

	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return
	}

	now := e.config.Clock.Now()

	for key, h := range e.haves {
		if now.Sub(h.accessed) > e.config.OutgoingTTL {
			delete(e.haves, key)
			e.metrics.transfersExpired.Inc()
			log.WithField("message", shortKey(key)).Debug("Cleaned up outgoing message")
		}
	}

	for key, n := range e.needs {
		if idle := now.Sub(n.modified); idle > e.config.IncomingTTL {
			delete(e.needs, key)
			e.metrics.transfersAbandoned.Inc()
			log.WithFields(log.Fields{
				"message": shortKey(key),
				"missing": n.joiner.Missing().Count(),
			}).Info("Abandoned incomplete incoming message")
		} else if idle > e.config.StallTimeout {
			out.frames = append(out.frames, n.request())
			e.metrics.needRetries.Inc()
			log.WithField("message", shortKey(key)).Debug("Requesting missing chunks of stalled message")
		}
	}

	if len(e.haves) > 0 || len(e.needs) > 0 {
		e.arm(e.config.TickInterval)
	}
	e.mutex.Unlock()

	if err := e.flush(&out); err != nil {
		log.WithError(err).Warn("Transmitting follow-up requests errored")
	}
}
