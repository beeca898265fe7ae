package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRejected is wrapped around the server's message when a write
	// comes back with an error line.
	ErrRejected = errors.New("write rejected")

	ErrBadReply = errors.New("malformed server reply")
)

// Conn is a synchronous ingest connection. The server answers writes
// strictly in the order they were sent, so each write reads exactly
// one reply line before the next is issued. Not safe for concurrent
// use.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	return &Conn{log: log}
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)

	c.log.Debug("Connected", zap.String("addr", addr))

	return nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// WritePoint sends one data point and waits for its acknowledgement.
// The returned sequence is non-zero only when the server acknowledges
// with sequence numbers.
func (c *Conn) WritePoint(ctx context.Context, seriesPayload string, timestamp uint64, value float64) (uint64, error) {
	frames := fmt.Sprintf("+%s\r\n:%d\r\n+%s\r\n",
		seriesPayload, timestamp, strconv.FormatFloat(value, 'g', -1, 64))

	if err := c.Send(ctx, []byte(frames)); err != nil {
		return 0, err
	}

	return c.ReadReply(ctx)
}

// Send writes raw bytes on the connection. Exposed so protocol tests
// can inject byte sequences a well-behaved client would never send.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	_, err := c.conn.Write(data)
	return err
}

// ReadReply consumes one reply line and maps it to an outcome: nil
// error for `+OK`, the sequence number for `:<seq>`, ErrRejected for
// `-ERR ...`.
func (c *Conn) ReadReply(ctx context.Context) (uint64, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, err
	}

	line = strings.TrimRight(line, "\r\n")

	if line == "" {
		return 0, fmt.Errorf("empty line: %w", ErrBadReply)
	}

	switch line[0] {
	case '+':
		return 0, nil

	case ':':
		seq, err := strconv.ParseUint(line[1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad ack '%s': %w", line, ErrBadReply)
		}

		return seq, nil

	case '-':
		msg := strings.TrimPrefix(line[1:], "ERR ")
		return 0, fmt.Errorf("%w: %s", ErrRejected, msg)

	default:
		return 0, fmt.Errorf("'%s': %w", line, ErrBadReply)
	}
}
