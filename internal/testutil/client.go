package testutil

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ian0520/gamestore/internal/protocol"
)

// ServiceClient drives one framed JSON connection against the developer or
// lobby service from a test. Replies and pushed events arrive on the same
// socket; Call skips events, NextEvent skips nothing and fails on a reply.
type ServiceClient struct {
	t       testing.TB
	conn    net.Conn
	pending []map[string]any // events read while waiting for a reply
	timeout time.Duration
}

// Connect dials addr and registers cleanup with t.
func Connect(t testing.TB, addr string) *ServiceClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &ServiceClient{t: t, conn: conn, timeout: 5 * time.Second}
}

// Close closes the underlying connection, simulating a client drop.
func (c *ServiceClient) Close() {
	c.conn.Close()
}

// Send writes one request frame without waiting for a reply.
func (c *ServiceClient) Send(msgType string, data map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(c.timeout)))
	require.NoError(c.t, protocol.WriteMessage(c.conn, map[string]any{"type": msgType, "data": data}))
}

func (c *ServiceClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(c.timeout)))
	raw, err := protocol.ReadFrame(c.conn)
	require.NoError(c.t, err)
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(raw, &msg))
	return msg
}

func isEvent(msg map[string]any) bool {
	v, _ := msg["type"].(string)
	return v == "event"
}

// Call sends a request and returns the next reply, buffering any events that
// arrive in between.
func (c *ServiceClient) Call(msgType string, data map[string]any) map[string]any {
	c.t.Helper()
	c.Send(msgType, data)
	for {
		msg := c.read()
		if isEvent(msg) {
			c.pending = append(c.pending, msg)
			continue
		}
		return msg
	}
}

// CallOK asserts the reply is ok:true and returns it.
func (c *ServiceClient) CallOK(msgType string, data map[string]any) map[string]any {
	c.t.Helper()
	reply := c.Call(msgType, data)
	require.Equal(c.t, true, reply["ok"], "reply to %s: %v", msgType, reply)
	return reply
}

// CallErr asserts the reply is ok:false with the given error code.
func (c *ServiceClient) CallErr(code, msgType string, data map[string]any) map[string]any {
	c.t.Helper()
	reply := c.Call(msgType, data)
	require.Equal(c.t, false, reply["ok"], "reply to %s: %v", msgType, reply)
	require.Equal(c.t, code, reply["error"], "reply to %s: %v", msgType, reply)
	return reply
}

// BufferedEvents reports how many events were read while waiting for
// replies but not yet consumed.
func (c *ServiceClient) BufferedEvents() int { return len(c.pending) }

// NextEvent returns the next pushed event, consuming buffered ones first.
func (c *ServiceClient) NextEvent() map[string]any {
	c.t.Helper()
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg
	}
	msg := c.read()
	require.True(c.t, isEvent(msg), "expected event, got %v", msg)
	return msg
}

// WaitEvent reads until an event with the given name arrives.
func (c *ServiceClient) WaitEvent(name string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		msg := c.NextEvent()
		if n, _ := msg["name"].(string); n == name {
			return msg
		}
	}
	c.t.Fatalf("event %q never arrived", name)
	return nil
}
