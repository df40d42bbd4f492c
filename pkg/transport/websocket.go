// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// DefaultWebSocketMtu is used when no MTU was configured.
const DefaultWebSocketMtu = 16 * 1024

// WebSocket is a Transport exchanging frames as binary WebSocket messages.
//
// A dialing WebSocket has exactly one peer. A listening WebSocket is a http.Handler and accepts an arbitrary
// number of peers. Outgoing frames are sent to every peer, incoming frames from all peers are merged.
type WebSocket struct {
	mtu  int
	name string

	upgrader websocket.Upgrader
	server   *http.Server

	peers      map[*websocket.Conn]struct{}
	peersMutex sync.Mutex
	writeMutex sync.Mutex

	inChan    chan []byte
	closedSyn chan struct{}
	closeOnce sync.Once
}

func newWebSocket(name string, mtu int) *WebSocket {
	if mtu == 0 {
		mtu = DefaultWebSocketMtu
	}

	return &WebSocket{
		mtu:       mtu,
		name:      name,
		upgrader:  websocket.Upgrader{},
		peers:     make(map[*websocket.Conn]struct{}),
		inChan:    make(chan []byte, memoryQueueSize),
		closedSyn: make(chan struct{}),
	}
}

// DialWebSocket connects to a listening WebSocket at the given URL, e.g., ws://192.0.2.1:8080/chunkmsg.
func DialWebSocket(url string, mtu int) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	ws := newWebSocket(url, mtu)
	ws.addPeer(conn)
	return ws, nil
}

// NewWebSocketHandler creates a listening WebSocket without its own HTTP server. It must be mounted as a
// http.Handler, e.g., within a mux.Router.
func NewWebSocketHandler(mtu int) *WebSocket {
	return newWebSocket("handler", mtu)
}

// ListenWebSocket starts a HTTP server on the given address, serving WebSocket connections on the path.
func ListenWebSocket(address, path string, mtu int) (*WebSocket, error) {
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	ws := newWebSocket(fmt.Sprintf("%v%s", ln.Addr(), path), mtu)

	router := mux.NewRouter()
	router.Handle(path, ws)
	ws.server = &http.Server{Handler: router}

	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("transport", ws).WithError(err).Warn("WebSocket server errored")
		}
	}()

	return ws, nil
}

// ServeHTTP upgrades a HTTP connection to a WebSocket connection, which becomes another peer.
func (ws *WebSocket) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	select {
	case <-ws.closedSyn:
		http.Error(writer, "closed", http.StatusServiceUnavailable)
		return
	default:
	}

	if conn, err := ws.upgrader.Upgrade(writer, request, nil); err != nil {
		log.WithField("transport", ws).WithError(err).Warn("Upgrading connection errored")
	} else {
		log.WithFields(log.Fields{
			"transport": ws,
			"peer":      conn.RemoteAddr(),
		}).Debug("Accepted WebSocket peer")

		ws.addPeer(conn)
	}
}

func (ws *WebSocket) addPeer(conn *websocket.Conn) {
	ws.peersMutex.Lock()
	ws.peers[conn] = struct{}{}
	ws.peersMutex.Unlock()

	go ws.handleReceive(conn)
}

func (ws *WebSocket) removePeer(conn *websocket.Conn) {
	ws.peersMutex.Lock()
	delete(ws.peers, conn)
	ws.peersMutex.Unlock()

	_ = conn.Close()
}

// Peers returns the number of currently connected peers.
func (ws *WebSocket) Peers() int {
	ws.peersMutex.Lock()
	defer ws.peersMutex.Unlock()

	return len(ws.peers)
}

// handleReceive reads binary messages from one peer until its connection breaks.
func (ws *WebSocket) handleReceive(conn *websocket.Conn) {
	defer ws.removePeer(conn)

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ws.closedSyn:
			default:
				log.WithFields(log.Fields{
					"transport": ws,
					"peer":      conn.RemoteAddr(),
				}).WithError(err).Debug("Reading from WebSocket peer failed")
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case <-ws.closedSyn:
			return
		case ws.inChan <- frame:
		}
	}
}

func (ws *WebSocket) Mtu() int {
	return ws.mtu
}

func (ws *WebSocket) Send(frame []byte) error {
	if err := checkMtu(frame, ws.mtu); err != nil {
		return err
	}

	select {
	case <-ws.closedSyn:
		return io.ErrClosedPipe
	default:
	}

	ws.peersMutex.Lock()
	peers := make([]*websocket.Conn, 0, len(ws.peers))
	for conn := range ws.peers {
		peers = append(peers, conn)
	}
	ws.peersMutex.Unlock()

	ws.writeMutex.Lock()
	defer ws.writeMutex.Unlock()

	var errs *multierror.Error
	for _, conn := range peers {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("peer %v: %w", conn.RemoteAddr(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (ws *WebSocket) Receive() ([]byte, error) {
	select {
	case frame := <-ws.inChan:
		return frame, nil
	case <-ws.closedSyn:
		return nil, io.EOF
	}
}

func (ws *WebSocket) Close() (err error) {
	ws.closeOnce.Do(func() {
		close(ws.closedSyn)

		var errs *multierror.Error
		if ws.server != nil {
			if srvErr := ws.server.Close(); srvErr != nil {
				errs = multierror.Append(errs, srvErr)
			}
		}

		ws.peersMutex.Lock()
		for conn := range ws.peers {
			if connErr := conn.Close(); connErr != nil {
				errs = multierror.Append(errs, connErr)
			}
		}
		ws.peersMutex.Unlock()

		err = errs.ErrorOrNil()
	})
	return
}

func (ws *WebSocket) String() string {
	return fmt.Sprintf("ws://%s", ws.name)
}
