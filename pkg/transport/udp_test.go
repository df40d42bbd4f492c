// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

// freeUDPAddr returns a loopback address with a currently unused UDP port.
func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	return conn.LocalAddr().String()
}

func udpPair(t *testing.T, mtu int) (a, b *UDP) {
	t.Helper()

	addrA, addrB := freeUDPAddr(t), freeUDPAddr(t)

	a, err := DialUDP(addrA, addrB, mtu)
	if err != nil {
		t.Fatal(err)
	}
	b, err = DialUDP(addrB, addrA, mtu)
	if err != nil {
		_ = a.Close()
		t.Fatal(err)
	}

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return
}

func TestUDPExchange(t *testing.T) {
	a, b := udpPair(t, 0)

	if a.Mtu() != DefaultUDPMtu {
		t.Fatalf("Expected default MTU %d, got %d", DefaultUDPMtu, a.Mtu())
	}

	for i := 0; i < 3; i++ {
		msg := []byte(fmt.Sprintf("ping %d", i))
		if err := a.Send(msg); err != nil {
			t.Fatal(err)
		}
		if frame := receiveTimeout(t, b, time.Second); !bytes.Equal(frame, msg) {
			t.Fatalf("Expected %q, got %q", msg, frame)
		}

		msg = []byte(fmt.Sprintf("pong %d", i))
		if err := b.Send(msg); err != nil {
			t.Fatal(err)
		}
		if frame := receiveTimeout(t, a, time.Second); !bytes.Equal(frame, msg) {
			t.Fatalf("Expected %q, got %q", msg, frame)
		}
	}
}

func TestUDPUnknownSender(t *testing.T) {
	a, b := udpPair(t, 64)

	stranger, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()

	if _, err := stranger.WriteTo([]byte("intruder"), b.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := a.Send([]byte("peer")); err != nil {
		t.Fatal(err)
	}
	if frame := receiveTimeout(t, b, time.Second); !bytes.Equal(frame, []byte("peer")) {
		t.Fatalf("Expected frame from peer, got %q", frame)
	}
}

func TestUDPClose(t *testing.T) {
	a, _ := udpPair(t, 64)

	if err := a.Send(make([]byte, 65)); err == nil {
		t.Fatal("Sending an oversized frame did not error")
	}

	errChan := make(chan error, 1)
	go func() {
		_, err := a.Receive()
		errChan <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = a.Close()

	select {
	case err := <-errChan:
		if err != io.EOF {
			t.Fatalf("Expected io.EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive was not interrupted by Close")
	}
}
