// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"reflect"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestCleanupStallRetryAndAbandon(t *testing.T) {
	clk := clock.NewMock()
	sender, sRec := newTestEngine(t, clk)
	receiver, rRec := newTestEngine(t, clk)

	if err := sender.Send(testMessage, testID); err != nil {
		t.Fatal(err)
	}
	receiver.Read(sRec.take()[0])
	rRec.take()

	// Not yet stalled.
	clk.Add(DefaultStallTimeout)
	receiver.cleanup()
	if frames := rRec.take(); len(frames) != 0 {
		t.Fatalf("Receiver emitted %d frames before stalling", len(frames))
	}

	for tick := 0; tick < 4; tick++ {
		clk.Add(DefaultTickInterval)
		receiver.cleanup()

		frames := rRec.take()
		if len(frames) != 1 {
			t.Fatalf("Tick %d: receiver emitted %d frames", tick, len(frames))
		}
		if indices := mustNeed(t, frames[0]).Requested.Indices(); !reflect.DeepEqual(indices, []uint{1, 2, 3}) {
			t.Fatalf("Tick %d: receiver requested %v", tick, indices)
		}
	}

	// 10s + 4 * 10s passed; exceed the incoming TTL.
	clk.Add(DefaultIncomingTTL - 4*DefaultTickInterval)
	receiver.cleanup()

	if frames := rRec.take(); len(frames) != 0 {
		t.Fatalf("Abandoning receiver emitted %d frames", len(frames))
	}
	if s := receiver.Stats(); s.Needs != 0 {
		t.Fatalf("Receiver kept %d incoming messages", s.Needs)
	}

	// A late chunk starts from scratch.
	sender.Read(needFor(testID, 4, 1))
	receiver.Read(sRec.take()[0])

	if msgs := rRec.delivered(); len(msgs) != 0 {
		t.Fatalf("Abandoned message was delivered: %v", msgs)
	}
	if s := receiver.Stats(); s.Needs != 1 {
		t.Fatalf("Late chunk resulted in %d incoming messages", s.Needs)
	}
	if frames := rRec.take(); len(frames) != 1 {
		t.Fatalf("Late chunk resulted in %d frames", len(frames))
	} else if indices := mustNeed(t, frames[0]).Requested.Indices(); !reflect.DeepEqual(indices, []uint{0, 2, 3}) {
		t.Fatalf("Receiver requested %v", indices)
	}
}

func TestCleanupOutgoingExpiry(t *testing.T) {
	clk := clock.NewMock()
	sender, sRec := newTestEngine(t, clk)

	if err := sender.Send(testMessage, testID); err != nil {
		t.Fatal(err)
	}
	sRec.take()

	// Each served request refreshes the message.
	clk.Add(DefaultOutgoingTTL - time.Second)
	sender.Read(needFor(testID, 4, 3))
	if frames := sRec.take(); len(frames) != 1 {
		t.Fatalf("Sender answered with %d frames", len(frames))
	}

	clk.Add(DefaultOutgoingTTL - time.Second)
	sender.cleanup()
	if s := sender.Stats(); s.Haves != 1 {
		t.Fatalf("Recently requested message was removed: %v", s)
	}

	clk.Add(2 * time.Second)
	sender.cleanup()
	if s := sender.Stats(); s.Haves != 0 {
		t.Fatalf("Expired message was kept: %v", s)
	}

	sender.Read(needFor(testID, 4, 0, 1, 2, 3))
	if frames := sRec.take(); len(frames) != 0 {
		t.Fatalf("Sender answered an expired message with %d frames", len(frames))
	}
}

func TestCleanupLapsesWhenEmpty(t *testing.T) {
	e, _ := newTestEngine(t, clock.NewMock())

	e.mutex.Lock()
	e.arm(time.Hour)
	first := e.timer
	e.mutex.Unlock()

	e.cleanup()

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.timer != first {
		t.Fatal("Cleanup of empty stores scheduled another run")
	}
}

// advance the mock clock in steps of one second, letting the fired timers run.
func advance(clk *clock.Mock, d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		clk.Add(time.Second)
	}
}

func TestCleanupTimer(t *testing.T) {
	clk := clock.NewMock()
	r := &recorder{}

	e, err := NewEngine(Config{
		MaxFrameSize: testFrameSize,
		Incoming:     r.incoming,
		Outgoing:     r.outgoing,
		Clock:        clk,
	})
	require.NoError(t, err)
	defer e.Close()

	first, err := ChunkFrame{ID: testID, LastIndex: 3, Index: 0, Payload: []byte("01234")}.MarshalBinary()
	require.NoError(t, err)

	e.Read(first)
	require.Len(t, r.take(), 1)

	// Armed after 5s, stalled after 10s: the first retry is due at 15s.
	advance(clk, 16*time.Second)
	require.Eventually(t, func() bool {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		return len(r.frames) >= 1
	}, time.Second, 10*time.Millisecond)

	// Retries continue each tick until the message is abandoned.
	advance(clk, DefaultIncomingTTL)
	require.Eventually(t, func() bool { return e.Stats().Needs == 0 }, time.Second, 10*time.Millisecond)

	retries := r.take()
	require.GreaterOrEqual(t, len(retries), 3)
	for _, f := range retries {
		require.Equal(t, []uint{1, 2, 3}, mustNeed(t, f).Requested.Indices())
	}
	require.Empty(t, r.delivered())
}
