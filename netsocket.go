package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// defaultIdleTimeout is the default idle timeout of a NetSocket.
const defaultIdleTimeout = 30 * time.Second

// socketOp is one outstanding read or write.
type socketOp struct {
	buf  []byte
	done func(int, error)
}

// NetSocket adapts a net.Conn to the Socket interface.
// Blocking reads and writes run on their own goroutines while Run is
// active, and every completion is posted to the Loop.
type NetSocket struct {
	rawConn net.Conn
	loop    *Loop
	logger  Logger
	opts    socketOptions

	readPending  atomic.Bool
	writePending atomic.Bool
	reads        chan socketOp
	writes       chan socketOp

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// NewNetSocket wraps conn. Completions are delivered on loop.
func NewNetSocket(conn net.Conn, loop *Loop, opt ...SocketOption) *NetSocket {
	var opts socketOptions
	for _, o := range opt {
		o(&opts)
	}
	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return &NetSocket{
		rawConn: conn,
		loop:    loop,
		logger:  opts.logger,
		opts:    opts,
		reads:   make(chan socketOp, 1),
		writes:  make(chan socketOp, 1),
	}
}

// Read starts a read into buf.
func (s *NetSocket) Read(buf []byte, done func(int, error)) {
	s.submit(s.reads, &s.readPending, socketOp{buf: buf, done: done})
}

// Write starts a write of buf.
func (s *NetSocket) Write(buf []byte, done func(int, error)) {
	s.submit(s.writes, &s.writePending, socketOp{buf: buf, done: done})
}

func (s *NetSocket) submit(ch chan socketOp, pending *atomic.Bool, op socketOp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.complete(op, 0, ErrSocketClosed)
		return
	}
	if !pending.CompareAndSwap(false, true) {
		s.complete(op, 0, ErrOperationPending)
		return
	}
	ch <- op
}

func (s *NetSocket) complete(op socketOp, n int, err error) {
	s.loop.Post(func() {
		op.done(n, err)
	})
}

// Run services reads and writes until ctx is canceled or the connection
// fails, then closes the connection. Operations still queued at that
// point complete with ErrSocketClosed.
func (s *NetSocket) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSocketClosed
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Debug("socket running", "addr", s.Addr(), "idle_timeout", s.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.writeLoop(child)
	})

	// Unblock whichever loop is parked in a syscall once the group winds down.
	group.Go(func() error {
		<-child.Done()
		_ = s.rawConn.Close()
		return nil
	})

	err := group.Wait()
	_ = s.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("socket closed with error", "addr", s.Addr(), "error", err)
	} else {
		s.logger.Debug("socket closed", "addr", s.Addr())
	}

	return err
}

// Close stops Run and closes the connection. Safe to call multiple times.
func (s *NetSocket) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.shutdown()
}

// Addr returns the remote address of the connection.
func (s *NetSocket) Addr() net.Addr {
	return s.rawConn.RemoteAddr()
}

// shutdown marks the socket closed, fails queued operations and closes
// the connection.
func (s *NetSocket) shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range []chan socketOp{s.reads, s.writes} {
		select {
		case op := <-ch:
			s.complete(op, 0, ErrSocketClosed)
		default:
		}
	}

	err := s.rawConn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// readLoop performs queued reads one at a time.
// A read that reaches EOF completes with zero bytes and no error.
func (s *NetSocket) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-s.reads:
			_ = s.rawConn.SetReadDeadline(time.Now().Add(s.opts.idleTimeout * 2))

			n, err := s.rawConn.Read(op.buf)
			if n > 0 || errors.Is(err, io.EOF) {
				// Deliver the bytes now; a persistent error resurfaces on the next read.
				err = nil
			}
			if err != nil && ctx.Err() != nil {
				err = ErrSocketClosed
			}

			s.readPending.Store(false)
			s.complete(op, n, err)

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				s.logger.Debug("read error", "addr", s.Addr(), "error", err)
				return err
			}
		}
	}
}

// writeLoop performs queued writes one at a time.
func (s *NetSocket) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-s.writes:
			_ = s.rawConn.SetWriteDeadline(time.Now().Add(s.opts.idleTimeout * 2))

			n, err := s.rawConn.Write(op.buf)
			if err != nil && ctx.Err() != nil {
				err = ErrSocketClosed
			}

			s.writePending.Store(false)
			s.complete(op, n, err)

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				s.logger.Debug("write error", "addr", s.Addr(), "error", err)
				return err
			}
		}
	}
}
