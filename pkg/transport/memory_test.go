// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// receiveTimeout waits for the next frame of a Transport or fails the test.
func receiveTimeout(t *testing.T, tr Transport, timeout time.Duration) []byte {
	t.Helper()

	type result struct {
		frame []byte
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		frame, err := tr.Receive()
		resultChan <- result{frame, err}
	}()

	select {
	case r := <-resultChan:
		if r.err != nil {
			t.Fatalf("Receive errored: %v", r.err)
		}
		return r.frame
	case <-time.After(timeout):
		t.Fatalf("Receive timed out after %v", timeout)
		return nil
	}
}

func TestMemoryHubBroadcast(t *testing.T) {
	hub := NewMemoryHub()

	var transports [5]*Memory
	for i := range transports {
		transports[i] = hub.Connect(16)
		defer transports[i].Close()
	}

	msg := []byte("hello world")
	if err := transports[0].Send(msg); err != nil {
		t.Fatal(err)
	}
	msg[0] = 'j'

	for i := 1; i < len(transports); i++ {
		if frame := receiveTimeout(t, transports[i], time.Second); !bytes.Equal(frame, []byte("hello world")) {
			t.Fatalf("Transport %d received %x", i, frame)
		}
	}

	select {
	case frame := <-transports[0].inChan:
		t.Fatalf("Sender received its own frame %x", frame)
	default:
	}
}

func TestMemoryHubDrop(t *testing.T) {
	hub := NewMemoryHubDrop(3)
	sender, receiver := hub.Connect(8), hub.Connect(8)
	defer sender.Close()
	defer receiver.Close()

	for i := byte(1); i <= 9; i++ {
		if err := sender.Send([]byte{i}); err != nil {
			t.Fatal(err)
		}
	}

	expected := []byte{1, 2, 4, 5, 7, 8}
	for _, e := range expected {
		if frame := receiveTimeout(t, receiver, time.Second); !bytes.Equal(frame, []byte{e}) {
			t.Fatalf("Expected frame %x, got %x", e, frame)
		}
	}

	if n := len(receiver.inChan); n != 0 {
		t.Fatalf("Receiver has %d unexpected frames queued", n)
	}
}

func TestMemoryMtu(t *testing.T) {
	hub := NewMemoryHub()
	m := hub.Connect(4)
	defer m.Close()

	if m.Mtu() != 4 {
		t.Fatalf("Expected MTU 4, got %d", m.Mtu())
	}
	if err := m.Send(make([]byte, 5)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Expected ErrFrameTooLarge, got %v", err)
	}
	if err := m.Send(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryClose(t *testing.T) {
	hub := NewMemoryHub()
	a, b := hub.Connect(8), hub.Connect(8)
	defer b.Close()

	errChan := make(chan error, 1)
	go func() {
		_, err := a.Receive()
		errChan <- err
	}()

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Second Close errored: %v", err)
	}

	select {
	case err := <-errChan:
		if err != io.EOF {
			t.Fatalf("Expected io.EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive was not interrupted by Close")
	}

	if err := a.Send([]byte{0}); err != io.ErrClosedPipe {
		t.Fatalf("Expected io.ErrClosedPipe, got %v", err)
	}

	// The closed Transport must not receive any further frames.
	if err := b.Send([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if n := len(a.inChan); n != 0 {
		t.Fatalf("Closed Transport queued %d frames", n)
	}
}
