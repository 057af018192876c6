package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/ringbuffer"
)

const (
	tcpInboundRingSize  = 75 * 1024
	tcpOutboundRingSize = 75 * 1024
)

// Stream is a TCP client transport (spec.md §4.3): a blocking connect
// bounded by a dial timeout, keep-alive once connected, an async read-some loop into a bounded
// inbound ring that re-arms after every callback, and an outbound ring
// drained iff it was previously empty.
type Stream struct {
	mu   sync.Mutex
	conn net.Conn

	Inbound  *ringbuffer.Ring
	outbound *ringbuffer.Ring

	OnRead  func(buffered int)
	OnError func(err error)

	drainMu      sync.Mutex
	drainRunning bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewStream() *Stream {
	return &Stream{
		Inbound:  ringbuffer.New(tcpInboundRingSize),
		outbound: ringbuffer.New(tcpOutboundRingSize),
	}
}

// newStreamFromConn wraps an already-established connection (used by
// Server on accept) and starts its receive loop immediately.
func newStreamFromConn(conn net.Conn) *Stream {
	s := NewStream()
	s.attach(conn)
	return s
}

func (s *Stream) attach(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.closeCh = make(chan struct{})
	s.wg.Add(1)
	go s.receiveLoop(conn)
}

// Connect dials host:port, waiting at most timeout, and returns once
// the dial completes; the receive loop then runs on its own goroutine.
func (s *Stream) Connect(host string, port int, timeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	s.attach(conn)
	return nil
}

// receiveLoop auto-restarts read-some while the socket is open, per
// spec.md §4.3, re-arming after every completion.
func (s *Stream) receiveLoop(conn net.Conn) {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.closeCh:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.OnError != nil {
				s.OnError(fmt.Errorf("tcp: read: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		if _, werr := s.Inbound.Write(buf[:n]); werr != nil {
			s.Inbound.Discard(n)
			_, _ = s.Inbound.Write(buf[:n])
		}
		if s.OnRead != nil {
			s.OnRead(s.Inbound.Len())
		}
	}
}

// Write queues data for transmission, starting the drain goroutine iff
// the outbound ring was previously empty.
func (s *Stream) Write(data []byte) error {
	s.drainMu.Lock()
	wasEmpty := s.outbound.Len() == 0
	s.drainMu.Unlock()

	if _, err := s.outbound.Write(data); err != nil {
		return fmt.Errorf("tcp: write queue: %w", err)
	}
	if wasEmpty {
		s.startDrain()
	}
	return nil
}

func (s *Stream) startDrain() {
	s.drainMu.Lock()
	if s.drainRunning {
		s.drainMu.Unlock()
		return
	}
	s.drainRunning = true
	s.drainMu.Unlock()

	go func() {
		defer func() {
			s.drainMu.Lock()
			s.drainRunning = false
			s.drainMu.Unlock()
		}()
		buf := make([]byte, 4096)
		for {
			n := s.outbound.Read(buf, 0, true)
			if n == 0 {
				return
			}
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				if s.OnError != nil {
					s.OnError(fmt.Errorf("tcp: write: %w", err))
				}
				return
			}
		}
	}()
}

// IsOpen reports whether a connection is currently attached.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Stream) Close() error {
	if s.closeCh != nil {
		select {
		case <-s.closeCh:
		default:
			close(s.closeCh)
		}
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// Server accepts inbound TCP connections and hands each a freshly
// wrapped Stream, spec.md §4.3's acceptor pattern.
type Server struct {
	ln net.Listener

	OnAccept func(*Stream)

	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewServer(bindAddr string) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", bindAddr, err)
	}
	s := &Server{ln: ln, closeCh: make(chan struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			continue
		}
		stream := newStreamFromConn(conn)
		if s.OnAccept != nil {
			s.OnAccept(stream)
		}
	}
}

func (s *Server) Close() error {
	close(s.closeCh)
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
