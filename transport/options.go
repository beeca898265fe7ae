package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/stela/storage"
)

const (
	DefaultMaxConns    = 1024
	DefaultReadTimeout = 30 * time.Second
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on
	Port int

	NumListeners int

	// MaxConns bounds how many sessions may be active at once. New
	// connections beyond it are refused with an error line.
	MaxConns int

	// ReadTimeout is the idle window: a session that produces no bytes
	// within it is closed as a transport fault, without an error line.
	ReadTimeout time.Duration

	// MaxLineBytes bounds how long an unterminated line may grow
	// before it is rejected as too long.
	MaxLineBytes int

	// AckWithSequence switches the commit acknowledgement from the
	// `+OK` status line to a `:<seq>` integer line carrying the
	// storage sequence number.
	AckWithSequence bool

	// StayOpenOnError keeps a session open for further independent
	// writes after a protocol error has been reported. The default is
	// to close once the error line is written.
	StayOpenOnError bool

	Store storage.Store

	Metrics *Metrics

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = DefaultMaxConns
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}

	return o
}
