// Package transport owns the UDP multicast socket: it chooses the
// single eligible network interface, binds and joins the multicast
// group, and turns datagrams into (payload, senderID) deliveries for
// the engine. It also implements the debug loss-injection counters
// used to exercise retry/dedup logic against real loss.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
)

// Config holds everything needed to join and use one multicast group.
type Config struct {
	Port        int
	GroupAddr   string // dotted IPv4, 224.0.0.0/4
	ReadBufSize int

	// InterfaceName, if set, selects that interface directly instead of
	// requiring exactly one eligible candidate.
	InterfaceName string

	// DebugWasteEachNthSent/Received silently drop every Nth outgoing
	// or incoming datagram when > 0. Zero disables loss injection.
	DebugWasteEachNthSent     int
	DebugWasteEachNthReceived int
}

// NetworkError wraps a socket bind/join/send failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// NoSuitableInterfaceError is returned when interface selection cannot
// find exactly one eligible candidate.
type NoSuitableInterfaceError struct {
	Reason string
}

func (e *NoSuitableInterfaceError) Error() string {
	return "transport: no suitable interface: " + e.Reason
}

// Delivery is one inbound datagram, already filtered for origin.
type Delivery struct {
	Payload  []byte
	SenderID string
}

// Transport is the multicast I/O surface. Construct with New, then call
// Receive in a loop from one goroutine (typically a feeder goroutine
// that forwards Deliveries into the engine's event loop channel).
type Transport struct {
	cfg       Config
	ownIP     net.IP
	conn      *net.UDPConn
	packet    *ipv4.PacketConn
	groupAddr *net.UDPAddr
	iface     *net.Interface

	sentCount     atomic.Int64
	receivedCount atomic.Int64

	closeOnce sync.Once
}

// New selects the network interface, binds, and joins the configured
// multicast group. It returns *NoSuitableInterfaceError or
// *NetworkError on failure.
func New(cfg Config) (*Transport, error) {
	if cfg.ReadBufSize == 0 {
		cfg.ReadBufSize = 1500
	}

	iface, ownIP, err := chooseInterface(cfg.InterfaceName)
	if err != nil {
		return nil, err
	}

	groupIP := net.ParseIP(cfg.GroupAddr).To4()
	if groupIP == nil {
		return nil, &NetworkError{Op: "parse group address", Err: fmt.Errorf("invalid IPv4 multicast address %q", cfg.GroupAddr)}
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	conn, err := lc.ListenPacket(context.Background(), "udp4",
		fmt.Sprintf("%s:%d", ownIP.String(), cfg.Port))
	if err != nil {
		return nil, &NetworkError{Op: "bind", Err: err}
	}
	udpConn := conn.(*net.UDPConn)

	packetConn := ipv4.NewPacketConn(udpConn)
	groupAddr := &net.UDPAddr{IP: groupIP, Port: cfg.Port}
	if err := packetConn.JoinGroup(iface, groupAddr); err != nil {
		udpConn.Close()
		return nil, &NetworkError{Op: "join multicast group", Err: err}
	}

	return &Transport{
		cfg:       cfg,
		ownIP:     ownIP,
		conn:      udpConn,
		packet:    packetConn,
		groupAddr: &net.UDPAddr{IP: groupIP, Port: cfg.Port},
		iface:     iface,
	}, nil
}

// OwnID returns the peer id other instances observe as this process's
// sender id: its own IPv4 address in dotted form.
func (t *Transport) OwnID() string {
	return t.ownIP.String()
}

// Send writes payload once to the multicast group. A short write is
// reported as a *NetworkError, as is a loss-injected send (surfaced to
// the caller like any other send failure — the caller decides whether
// to suppress it or report it, depending on the message kind).
func (t *Transport) Send(payload []byte) error {
	if t.cfg.DebugWasteEachNthSent > 0 {
		n := t.sentCount.Add(1)
		if n%int64(t.cfg.DebugWasteEachNthSent) == 0 {
			return &NetworkError{Op: "send", Err: errors.New("debug: datagram wasted")}
		}
	}

	n, err := t.conn.WriteToUDP(payload, t.groupAddr)
	if err != nil {
		return &NetworkError{Op: "send", Err: err}
	}
	if n != len(payload) {
		return &NetworkError{Op: "send", Err: fmt.Errorf("short write: %d of %d bytes", n, len(payload))}
	}
	return nil
}

// Receive blocks until one datagram from another instance arrives, or
// the socket is closed. On closure it returns a zero Delivery and the
// read error.
//
// Datagrams from a different port, from this host's own address,
// datagrams larger than ReadBufSize (which a read would truncate), and
// loss-injected receives are all silently dropped: Receive loops
// internally and only returns a live delivery (or a fatal read error).
func (t *Transport) Receive() (Delivery, error) {
	// One spare byte: a read that fills it means the datagram did not fit.
	buf := make([]byte, t.cfg.ReadBufSize+1)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return Delivery{}, err
		}

		if addr.Port != t.cfg.Port {
			continue
		}
		if addr.IP.Equal(t.ownIP) {
			continue
		}
		if n > t.cfg.ReadBufSize {
			continue
		}

		if t.cfg.DebugWasteEachNthReceived > 0 {
			c := t.receivedCount.Add(1)
			if c%int64(t.cfg.DebugWasteEachNthReceived) == 0 {
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		return Delivery{Payload: payload, SenderID: addr.IP.String()}, nil
	}
}

// Close releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.packet != nil {
			_ = t.packet.LeaveGroup(t.iface, t.groupAddr)
		}
		err = t.conn.Close()
	})
	return err
}

// interfacesFunc and addrsFunc are indirected for testability: unit
// tests substitute synthetic interface lists without needing real
// network interfaces or elevated privileges.
var (
	interfacesFunc = net.Interfaces
	addrsFunc      = func(iface *net.Interface) ([]net.Addr, error) { return iface.Addrs() }
)

// chooseInterface enforces a strict rule: exactly one interface that
// is up, running, and has a non-loopback IPv4 address. When name is
// non-empty, that interface is used directly instead, bypassing
// automatic selection.
func chooseInterface(name string) (*net.Interface, net.IP, error) {
	ifaces, err := interfacesFunc()
	if err != nil {
		return nil, nil, &NoSuitableInterfaceError{Reason: err.Error()}
	}

	if name != "" {
		for i := range ifaces {
			if ifaces[i].Name != name {
				continue
			}
			ip, err := ipv4AddrOf(&ifaces[i])
			if err != nil {
				return nil, nil, &NoSuitableInterfaceError{Reason: err.Error()}
			}
			return &ifaces[i], ip, nil
		}
		return nil, nil, &NoSuitableInterfaceError{Reason: fmt.Sprintf("interface %q not found", name)}
	}

	var chosen *net.Interface
	var chosenIP net.IP
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		ip, err := ipv4AddrOf(iface)
		if err != nil {
			continue // no eligible address on this interface
		}
		if chosen != nil {
			return nil, nil, &NoSuitableInterfaceError{Reason: "more than one suitable network interface found"}
		}
		chosen = iface
		chosenIP = ip
	}

	if chosen == nil {
		return nil, nil, &NoSuitableInterfaceError{Reason: "no suitable network interface found"}
	}
	return chosen, chosenIP, nil
}

// ipv4AddrOf returns the first non-loopback IPv4 address on iface.
func ipv4AddrOf(iface *net.Interface) (net.IP, error) {
	addrs, err := addrsFunc(iface)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		return ip4, nil
	}
	return nil, fmt.Errorf("no non-loopback IPv4 address on %s", iface.Name)
}
