package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/stela/protocol"
	"github.com/luma/stela/storage"
)

// TCP is the ingest server: it owns the listeners, the admission gate
// bounding concurrent sessions, and the shared storage write path.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	// sem is the admission gate. Every session holds one slot for its
	// lifetime; connections that can't take a slot are refused.
	sem chan struct{}

	opts  Options
	store storage.Store

	mu      sync.Mutex
	started bool
	closed  bool

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	options = options.withDefaults()

	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		sem:          make(chan struct{}, options.MaxConns),
		opts:         options,
		store:        options.Store,
		log:          options.Log,
	}
}

// Start binds every listener before returning, so a successful return
// means the server is accepting connections. Health probes can rely
// on that rather than on sleeps.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		listener := NewTCPListener(
			ctx,
			t.addr,
			t.sem,
			t.opts,
			t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
		)

		if err := listener.Listen(); err != nil {
			cancel()
			t.closeListeners()
			return err
		}

		t.listeners = append(t.listeners, listener)

		t.stopWaiter.Add(1)
		go func() {
			defer t.stopWaiter.Done()

			if err := listener.Serve(); err != nil {
				t.log.Error("Listener stopped serving", zap.Error(err))
			}
		}()
	}

	t.mu.Lock()
	t.started = true
	t.mu.Unlock()

	return nil
}

func (t *TCP) Store() storage.Store {
	return t.store
}

func (t *TCP) Metrics() *Metrics {
	return t.opts.Metrics
}

// Ready reports whether the server is accepting connections. Start
// binds synchronously, so this is true from the moment Start returns
// until Close is called.
func (t *TCP) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.started && !t.closed
}

// Addr returns the address the first listener is bound to.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Close stops accepting connections, closes every active session, and
// waits for the accept loops to drain.
func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.log.Info("Stopping TCP server")

	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

// refusalWriteTimeout bounds how long an admission refusal may block
// the accept loop.
const refusalWriteTimeout = time.Second

// TCPListener accepts connections on one reuseport socket and assigns
// each admitted connection an independent Session.
type TCPListener struct {
	ctx context.Context

	addr     string
	listener net.Listener

	sem  chan struct{}
	opts Options

	mu             sync.Mutex
	activeSessions map[*Session]struct{}

	loopWaiter sync.WaitGroup

	log *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	addr string,
	sem chan struct{},
	opts Options,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:            ctx,
		addr:           addr,
		sem:            sem,
		opts:           opts,
		activeSessions: make(map[*Session]struct{}),
		log:            log,
	}
}

// Listen binds the socket. It is separate from Serve so the caller
// knows the address is live before any accept loop runs.
func (t *TCPListener) Listen() error {
	listener, err := reuseport.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.listener = listener

	return nil
}

func (t *TCPListener) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}

	return t.listener.Addr()
}

// Close stops the accept loop and tears down every active session.
// Closing the sessions' connections unblocks any read they are parked
// on.
func (t *TCPListener) Close() error {
	var err error

	if t.listener != nil {
		err = t.listener.Close()
	}

	t.mu.Lock()
	for session := range t.activeSessions {
		session.Close()
		delete(t.activeSessions, session)
	}
	t.mu.Unlock()

	t.loopWaiter.Wait()

	return err
}

func (t *TCPListener) Serve() error {
	for {
		select {
		case <-t.ctx.Done():
			t.log.Info("Stopped accepting new connections")
			t.loopWaiter.Wait()

			t.log.Info("Listener stopped")
			return nil

		default:
			conn, err := t.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					// The socket was closed while we were waiting for
					// new connections, that's fine.
					return nil
				}

				return err
			}

			t.admit(conn)
		}
	}
}

// admit hands the connection a session slot, or refuses it when every
// slot is held. Refusal is explicit: the client gets an error line,
// not a silent close.
func (t *TCPListener) admit(conn net.Conn) {
	select {
	case t.sem <- struct{}{}:
		t.opts.Metrics.ConnsAccepted.Inc()

		session := NewSession(t.ctx, conn, t.opts, t.log.Named("session"))
		t.addSession(session)

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer func() { <-t.sem }()

			session.Run()
			t.removeSession(session)
		}()

	default:
		t.opts.Metrics.ConnsRejected.Inc()

		// The refusal is written on the accept goroutine: bound it so a
		// client that never reads can't stall the accept loop.
		if err := conn.SetWriteDeadline(time.Now().Add(refusalWriteTimeout)); err != nil {
			t.log.Warn("Failed to set refusal write deadline", zap.Error(err))
		}

		if err := protocol.WriteError(conn, "too many connections"); err != nil {
			t.log.Warn("Failed to write admission refusal", zap.Error(err))
		}

		if err := conn.Close(); err != nil {
			t.log.Warn("Failed to close refused connection", zap.Error(err))
		}
	}
}

func (t *TCPListener) addSession(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeSessions[session] = struct{}{}
}

func (t *TCPListener) removeSession(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeSessions, session)
}
