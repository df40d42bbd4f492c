// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/chunkmsg/pkg/chunkmsg"
	"github.com/dtn7/chunkmsg/pkg/envelope"
	"github.com/dtn7/chunkmsg/pkg/messenger"
)

const (
	// spoolRetries is the number of attempts to read a file which is still being written.
	spoolRetries = 5

	// spoolBackoff is the initial delay between two attempts, doubled for each retry.
	spoolBackoff = 100 * time.Millisecond

	// partialSuffix marks incomplete files within the inbox.
	partialSuffix = ".part"
)

// spool exchanges files between two directories and a Messenger.
//
// Files created in the outbox are wrapped into an Envelope and sent. Received Envelopes are written into the
// inbox, named by their base name.
type spool struct {
	outbox string
	inbox  string

	messenger  *messenger.Messenger
	watcher    *fsnotify.Watcher
	knownFiles sync.Map

	closeSyn chan struct{}
	wg       sync.WaitGroup
}

// startSpool starts watching the outbox and delivering into the inbox. Both directories are created.
func startSpool(outbox, inbox string, m *messenger.Messenger) (*spool, error) {
	for _, dir := range []string{outbox, inbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = watcher.Add(outbox); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s := &spool{
		outbox:    outbox,
		inbox:     inbox,
		messenger: m,
		watcher:   watcher,
		closeSyn:  make(chan struct{}),
	}

	s.wg.Add(2)
	go s.handleOutbox()
	go s.handleInbox()

	return s, nil
}

// close the spool. The Messenger must be closed afterwards to stop the inbox handler.
func (s *spool) close() {
	close(s.closeSyn)
	_ = s.watcher.Close()
}

// wait for both handlers to finish.
func (s *spool) wait() {
	s.wg.Wait()
}

func (s *spool) handleOutbox() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeSyn:
			log.Debug("Spool received close signal, stopping outbox handler")
			return

		case e, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if e.Op&fsnotify.Create == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			if _, known := s.knownFiles.LoadOrStore(filepath.Base(e.Name), struct{}{}); known {
				log.WithField("file", e.Name).Debug("Skipping file; already known")
				continue
			}

			s.wg.Add(1)
			go s.sendFile(e.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}

			log.WithError(err).Warn("fsnotify errored")
		}
	}
}

// isRejected checks if the Engine refused a message, opposed to a failed transmission of its first chunk.
func isRejected(err error) bool {
	for _, sentinel := range []error{
		chunkmsg.ErrClosed, chunkmsg.ErrTooManyChunks, chunkmsg.ErrFrameTooSmall, chunkmsg.ErrInvalidID,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// readStable reads a file once its size did not change during a back-off delay.
func readStable(name string, delay time.Duration) ([]byte, bool, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, false, err
	}

	time.Sleep(delay)

	info, err := os.Stat(name)
	if err != nil {
		return nil, false, err
	}
	return data, info.Size() == int64(len(data)), nil
}

// sendFile wraps a new file from the outbox into an Envelope. Files being written are retried.
func (s *spool) sendFile(name string) {
	defer s.wg.Done()
	defer s.knownFiles.Delete(filepath.Base(name))

	logger := log.WithField("file", name)

	if info, err := os.Stat(name); err != nil || info.IsDir() {
		logger.Debug("Ignoring vanished file or directory")
		return
	}

	for i := 0; i < spoolRetries; i++ {
		delay := time.Duration(math.Pow(2, float64(i))) * spoolBackoff

		data, stable, err := readStable(name, delay)
		if err != nil {
			logger.WithError(err).Warn("Reading file errored, retrying..")
			continue
		} else if !stable {
			logger.Debug("File is still being written, retrying..")
			continue
		}

		env := envelope.New(name, data)
		payload, err := env.Bytes()
		if err != nil {
			logger.WithError(err).Error("Serializing Envelope errored")
			return
		}

		id, err := s.messenger.Send(payload)
		if isRejected(err) {
			logger.WithError(err).Error("Sending Envelope errored")
			return
		} else if err != nil {
			// The first chunk might be lost, but the message is still offered to requests.
			logger.WithError(err).Warn("Sending Envelope reported a transport error")
		}

		if err := os.Remove(name); err != nil {
			logger.WithError(err).Warn("Removing sent file errored")
		}

		logger.WithFields(log.Fields{
			"envelope": env,
			"message":  id,
		}).Info("Sent file")
		return
	}

	logger.Error("Failed to process file, giving up.")
}

func (s *spool) handleInbox() {
	defer s.wg.Done()

	for msg := range s.messenger.Channel() {
		env, err := envelope.Parse(msg.Data)
		if err != nil {
			log.WithField("message", msg).WithError(err).Warn("Received message is no Envelope, dropping it")
			continue
		}

		if err := s.store(env); err != nil {
			log.WithField("envelope", env).WithError(err).Error("Saving received file errored")
		} else {
			log.WithField("envelope", env).Info("Saved received file")
		}
	}
}

// store an Envelope's data within the inbox. It first becomes visible when completely written.
func (s *spool) store(env envelope.Envelope) error {
	target := filepath.Join(s.inbox, env.Name)
	partial := target + partialSuffix

	if err := os.WriteFile(partial, env.Data, 0o644); err != nil {
		return err
	}
	return os.Rename(partial, target)
}
