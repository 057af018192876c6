package sqm

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// Device is one SQM found on the LAN by Discover.
type Device struct {
	IP  net.IP
	MAC string
}

// Discover broadcasts the SQM discovery probe on the LAN and collects
// replies for the given window (1s in spec.md §4.5): a single UDP
// broadcast "00 00 00 F6" to broadcastAddr (host only) on port 30718; replies beginning "00 00 00 F7" carry
// the MAC address in bytes 25..30.
func Discover(broadcastAddr string, window time.Duration) ([]Device, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("sqm: discovery socket: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", broadcastAddr, discoveryPort))
	if err != nil {
		return nil, fmt.Errorf("sqm: resolve broadcast addr: %w", err)
	}
	if _, err := conn.WriteToUDP(discoveryProbe, dst); err != nil {
		return nil, fmt.Errorf("sqm: send probe: %w", err)
	}

	var devices []Device
	deadline := time.Now().Add(window)
	buf := make([]byte, 128)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		_ = conn.SetReadDeadline(deadline)
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		if n < 31 || !hasPrefix(buf[:n], discoveryReplyPrefix) {
			continue
		}
		mac := buf[25:31]
		devices = append(devices, Device{
			IP:  from.IP,
			MAC: hex.EncodeToString(mac),
		})
	}
	return devices, nil
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
