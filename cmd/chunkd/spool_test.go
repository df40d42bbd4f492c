// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dtn7/chunkmsg/pkg/envelope"
	"github.com/dtn7/chunkmsg/pkg/messenger"
	"github.com/dtn7/chunkmsg/pkg/transport"
)

type spoolNode struct {
	outbox, inbox string
	messenger     *messenger.Messenger
	spool         *spool
}

func startSpoolNode(t *testing.T, hub *transport.MemoryHub) *spoolNode {
	t.Helper()

	m, err := messenger.New(hub.Connect(256), messenger.Config{
		Compress:     true,
		ArmDelay:     10 * time.Millisecond,
		TickInterval: 20 * time.Millisecond,
		StallTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.Start()

	dir := t.TempDir()
	node := &spoolNode{
		outbox:    filepath.Join(dir, "out"),
		inbox:     filepath.Join(dir, "in"),
		messenger: m,
	}

	if node.spool, err = startSpool(node.outbox, node.inbox, m); err != nil {
		_ = m.Close()
		t.Fatal(err)
	}

	t.Cleanup(func() {
		node.spool.close()
		_ = m.Close()
		node.spool.wait()
	})
	return node
}

func fileContent(name string) []byte {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil
	}
	return data
}

func TestSpoolExchange(t *testing.T) {
	hub := transport.NewMemoryHubDrop(7)
	a, b := startSpoolNode(t, hub), startSpoolNode(t, hub)

	data := bytes.Repeat([]byte("spooled content\n"), 1000)
	outName := filepath.Join(a.outbox, "report.txt")
	if err := os.WriteFile(outName, data, 0o644); err != nil {
		t.Fatal(err)
	}

	inName := filepath.Join(b.inbox, "report.txt")
	require.Eventually(t, func() bool { return bytes.Equal(fileContent(inName), data) },
		10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(outName)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	if _, err := os.Stat(inName + partialSuffix); !os.IsNotExist(err) {
		t.Fatalf("Partial file was left behind: %v", err)
	}
}

func TestSpoolIgnoresForeignMessages(t *testing.T) {
	hub := transport.NewMemoryHub()
	node := startSpoolNode(t, hub)

	sender, err := messenger.New(hub.Connect(256), messenger.Config{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	sender.Start()
	defer sender.Close()

	if _, err := sender.Send([]byte("no envelope")); err != nil {
		t.Fatal(err)
	}

	env := envelope.New("valid.bin", []byte{0x01, 0x02})
	payload, err := env.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sender.Send(payload); err != nil {
		t.Fatal(err)
	}

	inName := filepath.Join(node.inbox, "valid.bin")
	require.Eventually(t, func() bool { return bytes.Equal(fileContent(inName), env.Data) },
		5*time.Second, 20*time.Millisecond)

	entries, err := os.ReadDir(node.inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected only valid.bin in the inbox, got %d entries", len(entries))
	}
}
