package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrBadFrame marks a message that could not be interpreted as a frame.
// the connection is still usable; callers drop the frame and read on.
var ErrBadFrame = errors.New("bad frame")

// Codec handles reading and writing frames over a websocket connection.
// frames are self-delimited: one text message per frame.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with frame encoding/decoding.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteFrame serialises and sends a frame over the websocket.
func (c *Codec) WriteFrame(f *Frame) error {
	data, err := MarshalFrame(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame reads and deserialises the next frame from the websocket.
func (c *Codec) ReadFrame() (*Frame, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", ErrBadFrame, msgType)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return f, nil
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
