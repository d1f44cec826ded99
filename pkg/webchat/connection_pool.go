package webchat

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var errPoolConnMissing = errors.New("connection not in pool")

// wsConn is the subset of *websocket.Conn the pool needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool tracks open websocket connections so shutdown can close the
// hijacked ones http.Server.Shutdown does not know about. Writes are
// serialized per connection.
type ConnectionPool struct {
	mu           sync.Mutex
	conns        map[wsConn]*sync.Mutex
	writeTimeout time.Duration
}

func NewConnectionPool(writeTimeout time.Duration) *ConnectionPool {
	return &ConnectionPool{
		conns:        map[wsConn]*sync.Mutex{},
		writeTimeout: writeTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cp.conns[conn] = &sync.Mutex{}
	cp.mu.Unlock()
}

// Remove forgets conn and closes it. Removing twice is harmless.
func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

// Send writes one frame. A failed write drops and closes the connection.
func (cp *ConnectionPool) Send(conn wsConn, messageType int, data []byte) error {
	if cp == nil || conn == nil {
		return errPoolConnMissing
	}
	cp.mu.Lock()
	writeMu, ok := cp.conns[conn]
	cp.mu.Unlock()
	if !ok {
		return errPoolConnMissing
	}

	writeMu.Lock()
	var err error
	if cp.writeTimeout > 0 {
		err = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
	}
	if err == nil {
		err = conn.WriteMessage(messageType, data)
	}
	writeMu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("ws send failed, dropping connection")
		cp.Remove(conn)
	}
	return err
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	conns := make([]wsConn, 0, len(cp.conns))
	for conn := range cp.conns {
		conns = append(conns, conn)
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
