// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Open creates a Transport based on its URI. The following schemes are supported:
//
//	udp://:35039?peer=192.0.2.1:35039&mtu=1232
//	quic://192.0.2.1:35040
//	quic://:35040?listen=true
//	ws://192.0.2.1:8080/chunkmsg
//	ws://:8080/chunkmsg?listen=true
//	rf95modem:///dev/ttyUSB0?frequency=868.1
//
// Each scheme accepts an optional mtu parameter. A listening QUIC Transport blocks until its peer connects.
func Open(uri string) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing transport URI %q: %w", uri, err)
	}

	query := u.Query()

	mtu := 0
	if mtuStr := query.Get("mtu"); mtuStr != "" {
		if mtu, err = strconv.Atoi(mtuStr); err != nil || mtu <= 0 {
			return nil, fmt.Errorf("invalid mtu %q in transport URI %q", mtuStr, uri)
		}
	}

	listen := false
	if listenStr := query.Get("listen"); listenStr != "" {
		if listen, err = strconv.ParseBool(listenStr); err != nil {
			return nil, fmt.Errorf("invalid listen flag %q in transport URI %q", listenStr, uri)
		}
	}

	switch u.Scheme {
	case "udp":
		peer := query.Get("peer")
		if peer == "" {
			return nil, fmt.Errorf("transport URI %q misses the peer parameter", uri)
		}
		return DialUDP(u.Host, peer, mtu)

	case "quic":
		if listen {
			return ListenQUIC(context.Background(), u.Host, mtu)
		}
		return DialQUIC(u.Host, mtu)

	case "ws", "wss":
		if listen {
			return ListenWebSocket(u.Host, u.Path, mtu)
		}
		dialURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
		return DialWebSocket(dialURL.String(), mtu)

	case "rf95modem":
		frequency := 0.0
		if freqStr := query.Get("frequency"); freqStr != "" {
			if frequency, err = strconv.ParseFloat(freqStr, 64); err != nil {
				return nil, fmt.Errorf("invalid frequency %q in transport URI %q", freqStr, uri)
			}
		}
		return OpenRf95(u.Path, frequency)

	default:
		return nil, fmt.Errorf("unknown transport scheme %q", u.Scheme)
	}
}
