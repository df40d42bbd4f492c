// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// memoryQueueSize is the number of buffered frames for each Memory Transport.
const memoryQueueSize = 1024

// MemoryHub connects multiple Memory Transports, e.g., for testing. Each frame is delivered to all other
// connected Transports.
type MemoryHub struct {
	mutex      sync.Mutex
	transports []*Memory

	frameCounter int
	frameDrop    int
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{}
}

// NewMemoryHubDrop creates a new MemoryHub which drops each nth frame.
func NewMemoryHubDrop(n int) *MemoryHub {
	return &MemoryHub{frameDrop: n}
}

// Connect a new Memory Transport with the given MTU to this MemoryHub.
func (hub *MemoryHub) Connect(mtu int) *Memory {
	m := &Memory{
		mtu:       mtu,
		hub:       hub,
		inChan:    make(chan []byte, memoryQueueSize),
		closedSyn: make(chan struct{}),
	}

	hub.mutex.Lock()
	hub.transports = append(hub.transports, m)
	hub.mutex.Unlock()

	return m
}

// disconnect a Memory Transport. This method is called from Memory.Close.
func (hub *MemoryHub) disconnect(m *Memory) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for i, other := range hub.transports {
		if other == m {
			hub.transports = append(hub.transports[:i], hub.transports[i+1:]...)
			return
		}
	}
}

// broadcast a frame from one Memory Transport to all others, if it is not to be dropped.
func (hub *MemoryHub) broadcast(from *Memory, frame []byte) {
	hub.mutex.Lock()
	hub.frameCounter++
	if hub.frameDrop != 0 && hub.frameCounter%hub.frameDrop == 0 {
		hub.mutex.Unlock()
		return
	}
	receivers := append([]*Memory(nil), hub.transports...)
	hub.mutex.Unlock()

	for _, m := range receivers {
		if m != from {
			m.deliver(append([]byte(nil), frame...))
		}
	}
}

// Memory is an in-process Transport, connected to a MemoryHub.
type Memory struct {
	mtu    int
	hub    *MemoryHub
	inChan chan []byte

	closedSyn chan struct{}
	closeOnce sync.Once
}

// deliver a frame from the MemoryHub. A full queue drops the frame, like a congested link.
func (m *Memory) deliver(frame []byte) {
	select {
	case <-m.closedSyn:
	case m.inChan <- frame:
	default:
		log.WithField("transport", m).Debug("Queue is full, dropping frame")
	}
}

func (m *Memory) Mtu() int {
	return m.mtu
}

func (m *Memory) Send(frame []byte) error {
	if err := checkMtu(frame, m.mtu); err != nil {
		return err
	}

	select {
	case <-m.closedSyn:
		return io.ErrClosedPipe
	default:
		m.hub.broadcast(m, frame)
		return nil
	}
}

func (m *Memory) Receive() ([]byte, error) {
	select {
	case frame := <-m.inChan:
		return frame, nil
	case <-m.closedSyn:
		return nil, io.EOF
	}
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.closedSyn)
		m.hub.disconnect(m)
	})
	return nil
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory/mtu:%d", m.mtu)
}
