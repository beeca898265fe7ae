package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/stela/protocol"
	"github.com/luma/stela/series"
)

const readBufferSize = 4096

// Session owns one client connection: it reads bytes, drives the
// parser, writes each outcome's reply in arrival order, and enforces
// the idle read timeout. Session state is never shared between
// connections.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	parser *protocol.Parser

	opts Options

	closeOnce sync.Once

	log *zap.Logger
}

func NewSession(parentCtx context.Context, conn net.Conn, opts Options, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parentCtx)

	return &Session{
		ctx:    ctx,
		cancel: cancel,
		conn:   conn,
		parser: protocol.NewParser(opts.MaxLineBytes),
		opts:   opts,
		log:    log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Close tears the session down. Closing the connection unblocks any
// read the session loop is parked on, so shutdown never waits out the
// idle timeout.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("Failed to close connection cleanly", zap.Error(err))
		}
	})
}

// Run drives the read → parse → write loop until the client goes
// away, the idle timeout fires, a protocol error closes the session,
// or the server shuts down. The connection is released on every exit
// path.
func (s *Session) Run() {
	defer s.Close()

	s.opts.Metrics.ActiveSessions.Inc()
	defer s.opts.Metrics.ActiveSessions.Dec()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Context cancelled, exiting...")
			return

		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			s.log.Warn("Failed to set read deadline", zap.Error(err))
			return
		}

		n, err := s.conn.Read(buf)

		if n > 0 {
			if done := s.consume(buf[:n]); done {
				return
			}
		}

		if err != nil {
			// The stream is over, one way or another. A final line the
			// terminator never arrived for is classified now, and its
			// reply delivered, before the session ends.
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
				s.flush()
			}

			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.Info("Idle timeout, closing session")
			} else {
				s.log.Info("Connection ended", zap.Error(err))
			}

			return
		}
	}
}

// flush classifies whatever the parser still has buffered at stream
// end and writes the replies. The session is closing regardless, so
// close-on-error policy doesn't matter here.
func (s *Session) flush() {
	for _, outcome := range s.parser.Flush() {
		if outcome.Err != nil {
			s.reportError(outcome.Err)
			continue
		}

		s.commit(outcome.Point)
	}
}

// consume feeds freshly read bytes to the parser and replies to each
// outcome in order. It reports whether the session should close.
func (s *Session) consume(data []byte) bool {
	for _, outcome := range s.parser.Feed(data) {
		if outcome.Err != nil {
			if s.reportError(outcome.Err) {
				return true
			}

			if !s.opts.StayOpenOnError {
				return true
			}

			continue
		}

		if done := s.commit(outcome.Point); done {
			return true
		}
	}

	return false
}

// commit writes the point to storage and acknowledges it.
func (s *Session) commit(point *protocol.Point) bool {
	writeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()

	seq, err := s.opts.Store.WritePoint(writeCtx, point.Series, point.Timestamp, point.Value)
	if err != nil {
		s.log.Warn("Failed to write point",
			zap.String("series", point.Series.Canonical()),
			zap.Error(err))

		if err := protocol.WriteError(s.conn, "storage unavailable"); err != nil {
			s.log.Warn("Failed to write storage error reply", zap.Error(err))
		}

		return true
	}

	s.opts.Metrics.PointsCommitted.Inc()

	if s.opts.AckWithSequence {
		err = protocol.WriteAck(s.conn, seq)
	} else {
		err = protocol.WriteOK(s.conn)
	}

	if err != nil {
		s.log.Warn("Failed to acknowledge write", zap.Error(err))
		return true
	}

	return false
}

// reportError writes the single error line for a failed write. It
// reports whether the reply itself could not be delivered.
func (s *Session) reportError(cause error) bool {
	if series.IsValidationErr(cause) {
		s.opts.Metrics.ValidationErrors.Inc()
	} else {
		s.opts.Metrics.FramingErrors.Inc()
	}

	s.log.Info("Rejected write", zap.Error(cause))

	if err := protocol.WriteError(s.conn, cause.Error()); err != nil {
		s.log.Warn("Failed to write error reply", zap.Error(err))
		return true
	}

	return false
}
