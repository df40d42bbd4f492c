// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	log "github.com/sirupsen/logrus"
)

// DefaultUDPMtu fits into a single IPv6 packet on every link.
const DefaultUDPMtu = 1232

// maxDatagramSize is the largest possible UDP payload and the size of the receive buffer.
const maxDatagramSize = 65535

// UDP is a Transport sending datagrams to a fixed peer. Datagrams from other addresses are dropped.
type UDP struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	mtu  int
}

// DialUDP binds a UDP socket to the listen address and sends to the peer. An MTU of zero selects the
// DefaultUDPMtu.
func DialUDP(listen, peer string, mtu int) (*UDP, error) {
	if mtu == 0 {
		mtu = DefaultUDPMtu
	}

	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %s: %w", listen, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("resolving peer address %s: %w", peer, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	return &UDP{
		conn: conn,
		peer: raddr,
		mtu:  mtu,
	}, nil
}

// LocalAddr returns the bound address, e.g., to learn an ephemeral port.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Mtu() int {
	return u.mtu
}

func (u *UDP) Send(frame []byte) error {
	if err := checkMtu(frame, u.mtu); err != nil {
		return err
	}

	_, err := u.conn.WriteToUDP(frame, u.peer)
	return err
}

func (u *UDP) Receive() ([]byte, error) {
	buf := make([]byte, maxDatagramSize)

	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}

		if !addr.IP.Equal(u.peer.IP) || addr.Port != u.peer.Port {
			log.WithFields(log.Fields{
				"transport": u,
				"sender":    addr,
			}).Debug("Dropping datagram from unknown sender")
			continue
		}

		return append([]byte(nil), buf[:n]...), nil
	}
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

func (u *UDP) String() string {
	return fmt.Sprintf("udp://%v?peer=%v", u.conn.LocalAddr(), u.peer)
}
