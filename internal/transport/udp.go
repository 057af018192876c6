package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPMaxDatagram is the packet buffer size re-armed for every receive,
// matching spec.md §4.2's UDP_MAX.
const UDPMaxDatagram = 1500

// BlockReadTimeout is the fixed wait BlockRead uses for a reply,
// spec.md §4.2.
const BlockReadTimeout = 100 * time.Millisecond

// Datagram is a UDP endpoint. In connected mode Peer is fixed and Send
// omits the address; SendTo takes an explicit peer per call. Inbound
// datagrams are delivered through OnReceive, or to a waiting BlockRead.
type Datagram struct {
	conn *net.UDPConn
	Peer *net.UDPAddr // nil in unconnected mode

	OnReceive func(data []byte, from *net.UDPAddr)

	mu          sync.Mutex
	waitingCh   chan struct{} // signalled by the receive loop when a blocking request is in flight
	lastReply   []byte
	lastFrom    *net.UDPAddr

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Listen opens a UDP socket bound to localAddr (may be ":0") with
// SO_REUSEADDR, per spec.md §4.2. If peer is non-nil the endpoint is
// "connected" to that address.
func Listen(localAddr string, peer *net.UDPAddr) (*Datagram, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(nil, "udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("udp: listen %s: %w", localAddr, err)
	}
	conn := pc.(*net.UDPConn)
	d := &Datagram{
		conn:    conn,
		Peer:    peer,
		closeCh: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.receiveLoop()
	return d, nil
}

// ListenMulticast opens a UDP socket already joined to the given
// multicast group on the named interface (empty ifaceName lets the
// kernel pick), the multicast counterpart of spec.md §4.2's single
// setsockopt join.
func ListenMulticast(ifaceName string, group *net.UDPAddr) (*Datagram, error) {
	var iface *net.Interface
	if ifaceName != "" {
		found, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("udp: interface %s: %w", ifaceName, err)
		}
		iface = found
	}
	conn, err := net.ListenMulticastUDP("udp", iface, group)
	if err != nil {
		return nil, fmt.Errorf("udp: listen multicast %s: %w", group, err)
	}
	d := &Datagram{conn: conn, closeCh: make(chan struct{})}
	d.wg.Add(1)
	go d.receiveLoop()
	return d, nil
}

func (d *Datagram) receiveLoop() {
	defer d.wg.Done()
	buf := make([]byte, UDPMaxDatagram)
	for {
		select {
		case <-d.closeCh:
			return
		default:
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		d.mu.Lock()
		waiting := d.waitingCh
		if waiting != nil {
			d.lastReply = payload
			d.lastFrom = from
			d.waitingCh = nil
			d.mu.Unlock()
			close(waiting)
			continue
		}
		d.mu.Unlock()

		if d.OnReceive != nil {
			d.OnReceive(payload, from)
		}
	}
}

// SendTo fire-and-forgets a datagram to peer (unconnected mode).
func (d *Datagram) SendTo(payload []byte, peer *net.UDPAddr) error {
	_, err := d.conn.WriteToUDP(payload, peer)
	if err != nil {
		return fmt.Errorf("udp: send: %w", err)
	}
	return nil
}

// Send fire-and-forgets a datagram to the connected peer.
func (d *Datagram) Send(payload []byte) error {
	if d.Peer == nil {
		return fmt.Errorf("udp: not connected to a peer")
	}
	return d.SendTo(payload, d.Peer)
}

// BlockRead writes payload to peer (or the connected Peer if peer is
// nil) and waits up to BlockReadTimeout for a reply, returning the
// reply bytes and sender. It returns ok=false on timeout.
//
// The receive loop keeps running (and re-arms its own buffer)
// regardless of outcome, so a stray late reply from a previous request
// never wedges the next BlockRead call. This mirrors the original
// AsioUDP implementation's re-arm-on-timeout behavior (SPEC_FULL.md
// "Supplemented Features").
func (d *Datagram) BlockRead(payload []byte, peer *net.UDPAddr) (reply []byte, from *net.UDPAddr, ok bool) {
	target := peer
	if target == nil {
		target = d.Peer
	}
	if target == nil {
		return nil, nil, false
	}

	waitCh := make(chan struct{})
	d.mu.Lock()
	d.waitingCh = waitCh
	d.mu.Unlock()

	if err := d.SendTo(payload, target); err != nil {
		d.mu.Lock()
		d.waitingCh = nil
		d.mu.Unlock()
		return nil, nil, false
	}

	select {
	case <-waitCh:
		d.mu.Lock()
		reply, from = d.lastReply, d.lastFrom
		d.mu.Unlock()
		return reply, from, true
	case <-time.After(BlockReadTimeout):
		d.mu.Lock()
		d.waitingCh = nil
		d.mu.Unlock()
		return nil, nil, false
	}
}

func (d *Datagram) LocalAddr() net.Addr { return d.conn.LocalAddr() }

func (d *Datagram) Close() error {
	select {
	case <-d.closeCh:
	default:
		close(d.closeCh)
	}
	err := d.conn.Close()
	d.wg.Wait()
	return err
}
