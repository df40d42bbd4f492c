// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/chunkmsg/pkg/messenger"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging   logConf
	Engine    engineConf
	Transport transportConf
	Spool     spoolConf
	Metrics   metricsConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// engineConf describes the Engine-configuration block. Durations are parsed by time.ParseDuration.
type engineConf struct {
	MaxFrameSize int    `toml:"max-frame-size"`
	ArmDelay     string `toml:"arm-delay"`
	TickInterval string `toml:"tick-interval"`
	OutgoingTTL  string `toml:"outgoing-ttl"`
	IncomingTTL  string `toml:"incoming-ttl"`
	StallTimeout string `toml:"stall-timeout"`
	MaxChunks    uint64 `toml:"max-chunks"`
	Compress     bool
}

// transportConf describes the Transport-configuration block.
type transportConf struct {
	Uri string
}

// spoolConf describes the Spool-configuration block.
type spoolConf struct {
	Outbox string
	Inbox  string
}

// metricsConf describes the Metrics-configuration block. An empty listen address disables metrics.
type metricsConf struct {
	Listen string
}

// parseConfig reads and validates a TOML configuration file. The Engine-configuration block is returned as a
// messenger.Config.
func parseConfig(filename string) (conf tomlConfig, mc messenger.Config, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if err = conf.validate(); err != nil {
		return
	}

	mc, err = conf.Engine.messengerConfig()
	return
}

// validate reports all missing or malformed fields at once.
func (conf tomlConfig) validate() error {
	var errs *multierror.Error

	if conf.Transport.Uri == "" {
		errs = multierror.Append(errs, fmt.Errorf("transport.uri is empty"))
	}
	if conf.Spool.Outbox == "" {
		errs = multierror.Append(errs, fmt.Errorf("spool.outbox is empty"))
	}
	if conf.Spool.Inbox == "" {
		errs = multierror.Append(errs, fmt.Errorf("spool.inbox is empty"))
	}
	if conf.Spool.Outbox != "" && conf.Spool.Outbox == conf.Spool.Inbox {
		errs = multierror.Append(errs, fmt.Errorf("spool.outbox and spool.inbox must differ"))
	}
	if conf.Engine.MaxFrameSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("engine.max-frame-size is negative"))
	}

	if _, err := conf.Engine.messengerConfig(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// messengerConfig converts the Engine-configuration block. Empty durations select the defaults.
func (conf engineConf) messengerConfig() (mc messenger.Config, err error) {
	var errs *multierror.Error

	for _, field := range []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"engine.arm-delay", conf.ArmDelay, &mc.ArmDelay},
		{"engine.tick-interval", conf.TickInterval, &mc.TickInterval},
		{"engine.outgoing-ttl", conf.OutgoingTTL, &mc.OutgoingTTL},
		{"engine.incoming-ttl", conf.IncomingTTL, &mc.IncomingTTL},
		{"engine.stall-timeout", conf.StallTimeout, &mc.StallTimeout},
	} {
		if field.value == "" {
			continue
		}

		if d, dErr := time.ParseDuration(field.value); dErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", field.name, dErr))
		} else if d <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must be positive, got %v", field.name, d))
		} else {
			*field.dest = d
		}
	}

	mc.MaxFrameSize = conf.MaxFrameSize
	mc.MaxChunks = conf.MaxChunks
	mc.Compress = conf.Compress

	err = errs.ErrorOrNil()
	return
}

// configureLogging based on the Logging-configuration block.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format")
	}
}
