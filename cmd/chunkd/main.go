// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// chunkd exchanges files of spool directories as chunked messages over a frame based transport.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/chunkmsg/pkg/messenger"
	"github.com/dtn7/chunkmsg/pkg/transport"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, mc, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	configureLogging(conf.Logging)

	if conf.Metrics.Listen != "" {
		reg := newRegistry()
		mc.Registerer = reg

		srv, srvErr := serveMetrics(conf.Metrics.Listen, reg)
		if srvErr != nil {
			log.WithError(srvErr).Fatal("Failed to start metrics server")
		}
		defer srv.Close()
	}

	t, err := transport.Open(conf.Transport.Uri)
	if err != nil {
		log.WithError(err).WithField("uri", conf.Transport.Uri).Fatal("Failed to open transport")
	}

	m, err := messenger.New(t, mc)
	if err != nil {
		_ = t.Close()
		log.WithError(err).Fatal("Failed to create messenger")
	}
	m.Start()

	s, err := startSpool(conf.Spool.Outbox, conf.Spool.Inbox, m)
	if err != nil {
		_ = m.Close()
		log.WithError(err).Fatal("Failed to start spool")
	}

	log.WithFields(log.Fields{
		"transport": t,
		"outbox":    conf.Spool.Outbox,
		"inbox":     conf.Spool.Inbox,
	}).Info("chunkd started")

	waitSigint()
	log.Info("Shutting down..")

	s.close()
	if err := m.Close(); err != nil {
		log.WithError(err).Warn("Closing messenger errored")
	}
	s.wait()
}
