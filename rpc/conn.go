package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// MaxMessageSize is the largest accepted frame
const MaxMessageSize = 16 * 1024 * 1024

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize
var ErrMessageTooLarge = errors.New("message too large")

// Conn reads and writes newline delimited JSON messages.
// Writes are serialized, reads must be done from a single goroutine.
type Conn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer

	wlock     sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn returns Conn over the stream
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return newConn(rwc, rwc, rwc)
}

func newConn(r io.Reader, w io.Writer, c io.Closer) *Conn {
	return &Conn{
		r:      bufio.NewReaderSize(r, 64*1024),
		w:      w,
		closer: c,
	}
}

// ReadMessage returns the next non-empty frame without the trailing newline
func (c *Conn) ReadMessage() ([]byte, error) {
	var buf []byte
	for {
		line, err := c.r.ReadSlice('\n')
		if len(buf)+len(line) > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		buf = append(buf, line...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(buf)) > 0 {
				// last frame without terminator
				return bytes.TrimSpace(buf), nil
			}
			return nil, err
		}

		msg := bytes.TrimSpace(buf)
		if len(msg) == 0 {
			buf = buf[:0]
			continue
		}
		return msg, nil
	}
}

// WriteMessage encodes v as a single line
func (c *Conn) WriteMessage(v any) error {
	js, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	js = append(js, '\n')

	c.wlock.Lock()
	defer c.wlock.Unlock()
	_, err = c.w.Write(js)
	return err
}

// Close closes the underlying stream once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.closer != nil {
			c.closeErr = c.closer.Close()
		}
	})
	return c.closeErr
}
