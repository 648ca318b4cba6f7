package daemon

import (
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// rejectBody is written verbatim to connections over the limit.
const rejectBody = `{"success":false,"code":"unavailable","error":"too many connections"}`

var rejectResponse = []byte("HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Type: application/json\r\n" +
	"Content-Length: " + strconv.Itoa(len(rejectBody)) + "\r\n" +
	"Retry-After: 1\r\n" +
	"Connection: close\r\n\r\n" + rejectBody)

// gatedListener runs a dedicated accept loop over a raw socket and admits
// at most limit concurrent connections. Connections over the limit receive an
// immediate 503 and are closed; they are never queued.
type gatedListener struct {
	inner  net.Listener
	limit  int64
	open   atomic.Int64
	conns  chan net.Conn
	done   chan struct{}
	once   sync.Once
	err    error
	logger *slog.Logger

	onOpen   func()
	onClose  func()
	onReject func()
}

func newGatedListener(inner net.Listener, limit int, logger *slog.Logger) *gatedListener {
	if limit <= 0 {
		limit = 64
	}
	l := &gatedListener{
		inner:  inner,
		limit:  int64(limit),
		conns:  make(chan net.Conn),
		done:   make(chan struct{}),
		logger: logger,
	}
	return l
}

func (l *gatedListener) start() {
	go l.acceptLoop()
}

func (l *gatedListener) acceptLoop() {
	var tempDelay time.Duration
	for {
		c, err := l.inner.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				time.Sleep(tempDelay)
				continue
			}
			l.closeWith(err)
			return
		}
		tempDelay = 0

		if l.open.Add(1) > l.limit {
			l.open.Add(-1)
			go l.reject(c)
			continue
		}
		if l.onOpen != nil {
			l.onOpen()
		}
		select {
		case l.conns <- &trackedConn{Conn: c, release: l.release}:
		case <-l.done:
			c.Close()
			l.release()
			return
		}
	}
}

func (l *gatedListener) reject(c net.Conn) {
	if l.onReject != nil {
		l.onReject()
	}
	l.logger.Warn("connection rejected: limit reached", "remote", c.RemoteAddr().String(), "max", l.limit)
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = c.Write(rejectResponse)
	c.Close()
}

func (l *gatedListener) release() {
	l.open.Add(-1)
	if l.onClose != nil {
		l.onClose()
	}
}

// Accept returns the next admitted connection.
func (l *gatedListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		if l.err != nil {
			return nil, l.err
		}
		return nil, net.ErrClosed
	}
}

func (l *gatedListener) Close() error { return l.closeWith(nil) }

// closeWith records the accept error, if any, that ended the listener.
func (l *gatedListener) closeWith(cause error) error {
	var err error
	l.once.Do(func() {
		l.err = cause
		close(l.done)
		err = l.inner.Close()
	})
	return err
}

func (l *gatedListener) Addr() net.Addr { return l.inner.Addr() }

// Open returns the number of admitted connections still open.
func (l *gatedListener) Open() int { return int(l.open.Load()) }

// trackedConn releases its slot exactly once when closed, including after
// a hijack by the WebSocket upgrader.
type trackedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
