// Package transport implements the three wire-level transports spec.md
// §4.1-§4.3 sit on top of: a serial byte pipe, a UDP endpoint, and a TCP
// client/server pair. Each exposes asynchronous I/O over bounded ring
// buffers and a read callback fired on the transport's own reactor
// goroutine; callers must copy data out of the callback before
// returning, exactly as spec.md §9 requires.
package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/salmingo/wemon-public/internal/ringbuffer"
)

// SerialOpener abstracts the platform-specific device-open step (baud
// rate, 8-N-1 framing, ioctl/termios setup) behind an
// io.ReadWriteCloser. No example repo in the retrieval pack talks to a
// serial port, so there is no ecosystem library in the corpus to ground
// a concrete implementation on; production wiring supplies a
// SerialOpener backed by whatever platform serial package the
// deployment target favors, and tests supply an in-memory pipe.
type SerialOpener func(device string, baud int) (io.ReadWriteCloser, error)

const (
	inboundFrameSize = 128
	inboundRingSize  = 1280
	outboundRingSize = 1280
)

// SerialPort mirrors spec.md §4.1: a background receiver copies
// incoming bytes into a bounded inbound ring and fires a read handler
// once at least MinMsgLen bytes are buffered; writes are queued to an
// outbound ring and drained by a writer goroutine that starts only when
// the ring transitions from empty to non-empty.
type SerialPort struct {
	device string
	baud   int
	open   SerialOpener

	mu   sync.Mutex
	conn io.ReadWriteCloser

	Inbound  *ringbuffer.Ring
	outbound *ringbuffer.Ring

	// MinMsgLen is the minimum number of buffered inbound bytes before
	// the read handler fires. Zero means "always fire".
	MinMsgLen int

	OnRead  func(buffered int)
	OnError func(err error)

	drainRunning bool
	drainMu      sync.Mutex

	closeCh chan struct{}
	wg      sync.WaitGroup
}

func NewSerialPort(device string, baud int, open SerialOpener) *SerialPort {
	return &SerialPort{
		device:   device,
		baud:     baud,
		open:     open,
		Inbound:  ringbuffer.New(inboundRingSize),
		outbound: ringbuffer.New(outboundRingSize),
		closeCh:  make(chan struct{}),
	}
}

// Open dials the device and starts the background receive loop. The
// loop is not auto-restarted on error (spec.md §4.1); the owner
// decides whether/when to call Open again.
func (p *SerialPort) Open() error {
	conn, err := p.open(p.device, p.baud)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", p.device, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.closeCh = make(chan struct{})
	p.wg.Add(1)
	go p.receiveLoop(conn)
	return nil
}

func (p *SerialPort) receiveLoop(conn io.ReadWriteCloser) {
	defer p.wg.Done()
	buf := make([]byte, inboundFrameSize)
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			if p.OnError != nil {
				p.OnError(fmt.Errorf("serial: read: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		if _, werr := p.Inbound.Write(buf[:n]); werr != nil {
			// Inbound ring saturated: drop the oldest bytes to make
			// room rather than losing the newest sample entirely.
			p.Inbound.Discard(n)
			_, _ = p.Inbound.Write(buf[:n])
		}
		if p.Inbound.Len() >= p.MinMsgLen && p.OnRead != nil {
			p.OnRead(p.Inbound.Len())
		}
	}
}

// Write queues p for transmission, starting the drain goroutine if the
// outbound ring was empty.
func (p *SerialPort) Write(data []byte) error {
	p.drainMu.Lock()
	wasEmpty := p.outbound.Len() == 0
	p.drainMu.Unlock()

	if _, err := p.outbound.Write(data); err != nil {
		return fmt.Errorf("serial: write queue: %w", err)
	}

	if wasEmpty {
		p.startDrain()
	}
	return nil
}

func (p *SerialPort) startDrain() {
	p.drainMu.Lock()
	if p.drainRunning {
		p.drainMu.Unlock()
		return
	}
	p.drainRunning = true
	p.drainMu.Unlock()

	go func() {
		defer func() {
			p.drainMu.Lock()
			p.drainRunning = false
			p.drainMu.Unlock()
		}()
		buf := make([]byte, 256)
		for {
			n := p.outbound.Read(buf, 0, true)
			if n == 0 {
				return
			}
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn == nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				if p.OnError != nil {
					p.OnError(fmt.Errorf("serial: write: %w", err))
				}
				return
			}
		}
	}()
}

// Close stops the receive loop and releases the device.
func (p *SerialPort) Close() error {
	select {
	case <-p.closeCh:
	default:
		close(p.closeCh)
	}
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	p.wg.Wait()
	return err
}

// WaitFor blocks until at least n bytes are buffered inbound or the
// timeout expires, polling at a fixed short interval. This backs the
// 5-second field-bus query wait of spec.md §4.4.
func (p *SerialPort) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Inbound.Len() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return p.Inbound.Len() >= n
}
