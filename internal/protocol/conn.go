package protocol

import (
	"net"
	"sync"
)

// Conn wraps a net.Conn with a write lock so that reply frames and pushed
// event frames never interleave inside a frame. Reads are not synchronized:
// each connection has exactly one reader goroutine.
type Conn struct {
	writeMu sync.Mutex
	nc      net.Conn
}

// NewConn wraps nc.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// ReadRequest reads one request envelope.
func (c *Conn) ReadRequest() (*Request, error) {
	var req Request
	if err := ReadMessage(c.nc, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Send writes v as one frame, serialized against concurrent senders.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.nc, v)
}

// SendOK sends an {ok:true} reply merged with extra fields.
func (c *Conn) SendOK(extra map[string]any) error {
	reply := map[string]any{"ok": true}
	for k, v := range extra {
		reply[k] = v
	}
	return c.Send(reply)
}

// SendErr sends an {ok:false, error: code} reply merged with extra fields.
func (c *Conn) SendErr(code string, extra map[string]any) error {
	reply := map[string]any{"ok": false, "error": code}
	for k, v := range extra {
		reply[k] = v
	}
	return c.Send(reply)
}

// PushEvent sends an unsolicited event frame.
func (c *Conn) PushEvent(name string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	return c.Send(Event{Type: "event", Name: name, Data: data})
}
