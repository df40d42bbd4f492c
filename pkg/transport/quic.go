// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lucas-clemente/quic-go"
)

const (
	// DefaultQUICMtu stays below the datagram frame size of a minimal QUIC packet.
	DefaultQUICMtu = 1024

	quicProtocol = "chunkmsg-datagram"

	quicApplicationShutdown quic.ApplicationErrorCode = 0
)

// QUIC is a Transport based on the unreliable datagram extension of a single QUIC connection.
type QUIC struct {
	conn     quic.Connection
	listener quic.Listener
	mtu      int
	closed   uint32
}

// quicConfig enables datagrams, which is the only way this Transport sends data.
func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
		EnableDatagrams: true,
	}
}

// listenerTLSConfig creates a TLS config around an ephemeral, self-signed ECDSA certificate. QUIC mandates
// TLS, but frames carry no identity to check a certificate against.
func listenerTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: quicProtocol},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos: []string{quicProtocol},
		MinVersion: tls.VersionTLS13,
	}, nil
}

// dialerTLSConfig skips certificate verification. Each listener generates a fresh self-signed certificate
// on startup, so there is no CA or pinned key to verify against; TLS only provides QUIC's encryption here.
// Authenticity of frames is out of scope for a Transport.
func dialerTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

func newQUIC(conn quic.Connection, listener quic.Listener, mtu int) (*QUIC, error) {
	if mtu == 0 {
		mtu = DefaultQUICMtu
	}

	q := &QUIC{
		conn:     conn,
		listener: listener,
		mtu:      mtu,
	}

	if !conn.ConnectionState().SupportsDatagrams {
		_ = q.Close()
		return nil, fmt.Errorf("peer %v does not support QUIC datagrams", conn.RemoteAddr())
	}
	return q, nil
}

// DialQUIC connects to a QUIC listener. An MTU of zero selects the DefaultQUICMtu.
func DialQUIC(address string, mtu int) (*QUIC, error) {
	conn, err := quic.DialAddr(address, dialerTLSConfig(), quicConfig())
	if err != nil {
		return nil, err
	}

	return newQUIC(conn, nil, mtu)
}

// ListenQUIC waits for the first peer to connect to the given address.
func ListenQUIC(ctx context.Context, address string, mtu int) (*QUIC, error) {
	tlsConf, err := listenerTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generating TLS config: %w", err)
	}

	listener, err := quic.ListenAddr(address, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	conn, err := listener.Accept(ctx)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	return newQUIC(conn, listener, mtu)
}

func (q *QUIC) Mtu() int {
	return q.mtu
}

func (q *QUIC) Send(frame []byte) error {
	if err := checkMtu(frame, q.mtu); err != nil {
		return err
	}
	return q.conn.SendMessage(frame)
}

func (q *QUIC) Receive() ([]byte, error) {
	frame, err := q.conn.ReceiveMessage()
	if err != nil && atomic.LoadUint32(&q.closed) == 1 {
		return nil, io.EOF
	}
	return frame, err
}

func (q *QUIC) Close() error {
	if !atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		return nil
	}

	var errs *multierror.Error
	if err := q.conn.CloseWithError(quicApplicationShutdown, "closing"); err != nil {
		errs = multierror.Append(errs, err)
	}
	if q.listener != nil {
		if err := q.listener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (q *QUIC) String() string {
	return fmt.Sprintf("quic://%v", q.conn.RemoteAddr())
}
