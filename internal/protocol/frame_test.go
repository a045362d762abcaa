package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "one byte", size: 1},
		{name: "small", size: 37},
		{name: "exactly max", size: MaxFrameSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xA7}, tt.size)
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, payload))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestWriteFrameRejectsBadSizes(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrFrameSize)
	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameSize)
	assert.Zero(t, buf.Len(), "no partial frame may be written")
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{name: "zero", length: 0},
		{name: "over max", length: MaxFrameSize + 1},
		{name: "huge", length: 1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var header [FrameHeaderSize]byte
			binary.BigEndian.PutUint32(header[:], tt.length)
			buf.Write(header[:])

			_, err := ReadFrame(&buf)
			assert.ErrorIs(t, err, ErrFrameSize)
		})
	}
}

func TestReadFrameCleanClose(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	t.Run("partial header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("partial payload", func(t *testing.T) {
		var buf bytes.Buffer
		var header [FrameHeaderSize]byte
		binary.BigEndian.PutUint32(header[:], 10)
		buf.Write(header[:])
		buf.Write([]byte("abc"))

		_, err := ReadFrame(&buf)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Request{Type: "room_join", Data: []byte(`{"roomId":7}`)}))

	var req Request
	require.NoError(t, ReadMessage(&buf, &req))
	assert.Equal(t, "room_join", req.Type)
	assert.JSONEq(t, `{"roomId":7}`, string(req.Data))
}

func TestConnSerializesWrites(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConn(server)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = conn.PushEvent("player_joined", map[string]any{"playerId": i})
		}
	}()

	for i := 0; i < 50; i++ {
		var ev Event
		require.NoError(t, ReadMessage(client, &ev))
		assert.Equal(t, "event", ev.Type)
		assert.Equal(t, "player_joined", ev.Name)
	}
	<-done
}
