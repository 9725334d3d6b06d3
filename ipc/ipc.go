// Package ipc is the message channel between a supervisor and the child
// it spawned. The supervisor passes two inherited file descriptors to the
// child and names them in the SUPERVISOR_IPC_FD environment variable as
// "<read fd>,<write fd>" from the child's point of view. Every message is
// one line of JSON.
//
// A child program picks the channel up with
//
//	ch, err := ipc.Open()
//	if err != nil {
//		// not started by a supervisor, or IPC was disabled
//	}
//	ch.Send(map[string]string{"status": "ready"})
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// EnvName is the environment variable carrying the channel's descriptors.
const EnvName = "SUPERVISOR_IPC_FD"

// MaxMessageSize bounds a single received line. Longer lines are
// discarded and reported as ErrMalformed.
const MaxMessageSize = 1 << 20

var (
	ErrNoChannel = errors.New("no ipc channel was passed to this process")
	ErrMalformed = errors.New("malformed ipc message")
)

// Message is a single JSON document, passed through untouched.
type Message []byte

// Get extracts a value using a gjson path.
func (m Message) Get(path string) gjson.Result {
	return gjson.GetBytes(m, path)
}

func (m Message) String() string {
	return string(m)
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte(`null`), nil
	}
	return m, nil
}

type Channel struct {
	r         *bufio.Reader
	maxSize   int
	wmu       sync.Mutex
	w         io.Writer
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps a reader/writer pair. closers are closed by Close.
func NewChannel(r io.Reader, w io.Writer, closers ...io.Closer) *Channel {
	return &Channel{
		r:       bufio.NewReader(r),
		maxSize: MaxMessageSize,
		w:       w,
		closers: closers,
	}
}

// Open returns the channel the supervisor passed to this process.
func Open() (*Channel, error) {
	spec := os.Getenv(EnvName)
	if spec == "" {
		return nil, ErrNoChannel
	}

	rfd, wfd, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}

	in := os.NewFile(uintptr(rfd), "ipc-in")
	out := os.NewFile(uintptr(wfd), "ipc-out")
	if in == nil || out == nil {
		return nil, errors.Errorf("invalid descriptors in %s=%s", EnvName, spec)
	}
	return NewChannel(in, out, in, out), nil
}

// ParseSpec parses the "<read fd>,<write fd>" value of EnvName.
func ParseSpec(s string) (int, int, error) {
	i := strings.IndexByte(s, ',')
	if i <= 0 {
		return 0, 0, errors.Errorf("failed to parse '%s' as ipc descriptors", s)
	}
	rfd, err := strconv.Atoi(strings.TrimSpace(s[:i]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to parse read descriptor in '%s'", s)
	}
	wfd, err := strconv.Atoi(strings.TrimSpace(s[i+1:]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to parse write descriptor in '%s'", s)
	}
	return rfd, wfd, nil
}

func FormatSpec(rfd, wfd int) string {
	return fmt.Sprintf("%d,%d", rfd, wfd)
}

// Send writes v as one line. Message, json.RawMessage and []byte values
// are taken to be JSON already and are only compacted.
func (c *Channel) Send(v interface{}) error {
	var buf bytes.Buffer
	var raw []byte
	switch v := v.(type) {
	case Message:
		raw = v
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to encode ipc message")
		}
		buf.Write(b)
	}
	if raw != nil {
		if err := json.Compact(&buf, raw); err != nil {
			return errors.Wrap(ErrMalformed, err.Error())
		}
	}
	buf.WriteByte('\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write ipc message")
	}
	return nil
}

// Receive blocks for the next message. Blank lines are skipped. It
// returns io.EOF once the other side has closed its end.
func (c *Channel) Receive() (Message, error) {
	for {
		line, tooLong, err := c.readLine()
		if tooLong {
			return nil, errors.Wrapf(ErrMalformed, "message exceeds %d bytes", c.maxSize)
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if !gjson.ValidBytes(line) {
				return nil, errors.Wrapf(ErrMalformed, "%q", line)
			}
			return Message(line), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads through the next newline without buffering more than
// maxSize bytes. The rest of an oversized line is consumed and dropped.
func (c *Channel) readLine() ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := c.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > c.maxSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, tooLong, err
	}
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
