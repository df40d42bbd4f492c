// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"io"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rf95modem-go/rf95"
)

// Rf95 is a Transport for LoRa frames over a rf95modem, connected by a serial device.
type Rf95 struct {
	device string
	modem  *rf95.Modem
	mtu    int
	closed uint32
}

// OpenRf95 opens a serial connection to the given device, e.g., /dev/ttyUSB0. A non-zero frequency, specified
// in MHz, is configured afterwards.
func OpenRf95(device string, frequency float64) (*Rf95, error) {
	modem, err := rf95.OpenSerial(device)
	if err != nil {
		return nil, err
	}

	mtu, err := modem.Mtu()
	if err != nil {
		_ = modem.Close()
		return nil, fmt.Errorf("fetching MTU: %w", err)
	}

	r := &Rf95{
		device: device,
		modem:  modem,
		mtu:    mtu,
	}

	if frequency != 0 {
		if err := r.Frequency(frequency); err != nil {
			_ = modem.Close()
			return nil, err
		}
	}

	return r, nil
}

// Frequency changes the rf95modem's frequency, specified in MHz.
func (r *Rf95) Frequency(frequency float64) error {
	log.WithFields(log.Fields{
		"transport": r,
		"frequency": frequency,
	}).Debug("Shifting frequency")

	return r.modem.Frequency(frequency)
}

// Mode sets the rf95modem's modem config.
func (r *Rf95) Mode(mode rf95.ModemMode) error {
	log.WithFields(log.Fields{
		"transport": r,
		"mode":      mode,
	}).Debug("Changing mode")

	return r.modem.Mode(mode)
}

func (r *Rf95) Mtu() int {
	return r.mtu
}

func (r *Rf95) Send(frame []byte) error {
	if err := checkMtu(frame, r.mtu); err != nil {
		return err
	}

	_, err := r.modem.Write(frame)
	return err
}

func (r *Rf95) Receive() ([]byte, error) {
	buf := make([]byte, r.mtu)
	n, err := r.modem.Read(buf)
	if err != nil {
		if atomic.LoadUint32(&r.closed) == 1 {
			return nil, io.EOF
		}
		return nil, err
	}

	return buf[:n], nil
}

func (r *Rf95) Close() error {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return nil
	}
	return r.modem.Close()
}

func (r *Rf95) String() string {
	return fmt.Sprintf("rf95modem://%s", r.device)
}
