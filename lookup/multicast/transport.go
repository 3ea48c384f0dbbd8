package multicast

import (
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Port is the mDNS port number, per RFC 6762 §3.
const Port = 5353

var (
	// ipv4Group is the multicast group used for mDNS over IPv4.
	ipv4Group = net.IPv4(224, 0, 0, 251)

	// ipv4GroupAddress is the address to which mDNS queries are sent when
	// using IPv4.
	ipv4GroupAddress = &net.UDPAddr{IP: ipv4Group, Port: Port}

	// ipv4ListenAddress is the address the IPv4 transport binds to. The
	// group address itself is not used so that the transport can control
	// precisely which interfaces join the group.
	ipv4ListenAddress = &net.UDPAddr{IP: net.IPv4zero, Port: Port}

	// ipv6Group is the multicast group used for mDNS over IPv6.
	ipv6Group = net.ParseIP("ff02::fb")

	// ipv6GroupAddress is the address to which mDNS queries are sent when
	// using IPv6.
	ipv6GroupAddress = &net.UDPAddr{IP: ipv6Group, Port: Port}

	// ipv6ListenAddress is the address the IPv6 transport binds to.
	ipv6ListenAddress = &net.UDPAddr{IP: net.IPv6unspecified, Port: Port}
)

const bufferSize = 65536

var buffers = sync.Pool{
	New: func() interface{} {
		return make([]byte, bufferSize)
	},
}

func getBuffer() []byte {
	return buffers.Get().([]byte)
}

func putBuffer(buf []byte) {
	if cap(buf) >= bufferSize {
		buffers.Put(buf[:bufferSize])
	}
}

// endpoint is the origin or destination of a packet.
type endpoint struct {
	interfaceIndex int
	address        *net.UDPAddr
}

// inboundPacket is a UDP packet received from a transport.
type inboundPacket struct {
	source endpoint
	data   []byte
}

// message unpacks the DNS message contained in the packet.
func (p *inboundPacket) message() (*dns.Msg, error) {
	m := &dns.Msg{}
	return m, m.Unpack(p.data)
}

func (p *inboundPacket) release() {
	putBuffer(p.data)
	p.data = nil
}

// transport is a multicast UDP carrier for one IP family.
//
// Grounded on dogmatiq-dissolve's mdns._ipv4.go/_ipv6.go draft transports
// (which stub out Read/Write) and jmalloc-dissolve's
// mdns/transport/ipv4.go/ipv6.go (which implement them); this merges the
// two into a single non-stub transport per family.
type transport interface {
	// listen joins the multicast group on the given interfaces.
	listen(ifaces []net.Interface) error

	// read blocks for the next inbound packet. The caller must call
	// release() on the returned packet once done with its data.
	read() (*inboundPacket, error)

	// write sends a packet to the given destination.
	write(data []byte, dest endpoint) error

	// group returns this transport's multicast group address.
	group() *net.UDPAddr

	// close releases the underlying socket.
	close() error
}

type ipv4Transport struct {
	pc *ipv4.PacketConn
}

func newIPv4Transport() *ipv4Transport {
	return &ipv4Transport{}
}

func (t *ipv4Transport) listen(ifaces []net.Interface) error {
	conn, err := net.ListenUDP("udp4", ipv4ListenAddress)
	if err != nil {
		return fmt.Errorf("multicast: unable to listen for ipv4 mdns packets: %w", err)
	}

	t.pc = ipv4.NewPacketConn(conn)

	if err := t.pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		t.pc.Close()
		return fmt.Errorf("multicast: unable to enable ipv4 interface control messages: %w", err)
	}

	joined := 0
	for i := range ifaces {
		if err := t.pc.JoinGroup(&ifaces[i], &net.UDPAddr{IP: ipv4Group}); err == nil {
			joined++
		}
	}

	if joined == 0 {
		t.pc.Close()
		return fmt.Errorf("multicast: unable to join the %s group on any interface", ipv4Group)
	}

	return nil
}

func (t *ipv4Transport) read() (*inboundPacket, error) {
	buf := getBuffer()

	n, cm, src, err := t.pc.ReadFrom(buf)
	if err != nil {
		putBuffer(buf)
		return nil, err
	}

	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}

	return &inboundPacket{
		source: endpoint{
			interfaceIndex: ifIndex,
			address:        src.(*net.UDPAddr),
		},
		data: buf[:n],
	}, nil
}

func (t *ipv4Transport) write(data []byte, dest endpoint) error {
	_, err := t.pc.WriteTo(data, &ipv4.ControlMessage{IfIndex: dest.interfaceIndex}, dest.address)
	return err
}

func (t *ipv4Transport) group() *net.UDPAddr { return ipv4GroupAddress }

func (t *ipv4Transport) close() error { return t.pc.Close() }

type ipv6Transport struct {
	pc *ipv6.PacketConn
}

func newIPv6Transport() *ipv6Transport {
	return &ipv6Transport{}
}

func (t *ipv6Transport) listen(ifaces []net.Interface) error {
	conn, err := net.ListenUDP("udp6", ipv6ListenAddress)
	if err != nil {
		return fmt.Errorf("multicast: unable to listen for ipv6 mdns packets: %w", err)
	}

	t.pc = ipv6.NewPacketConn(conn)

	if err := t.pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		t.pc.Close()
		return fmt.Errorf("multicast: unable to enable ipv6 interface control messages: %w", err)
	}

	joined := 0
	for i := range ifaces {
		if err := t.pc.JoinGroup(&ifaces[i], &net.UDPAddr{IP: ipv6Group}); err == nil {
			joined++
		}
	}

	if joined == 0 {
		t.pc.Close()
		return fmt.Errorf("multicast: unable to join the %s group on any interface", ipv6Group)
	}

	return nil
}

func (t *ipv6Transport) read() (*inboundPacket, error) {
	buf := getBuffer()

	n, cm, src, err := t.pc.ReadFrom(buf)
	if err != nil {
		putBuffer(buf)
		return nil, err
	}

	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}

	return &inboundPacket{
		source: endpoint{
			interfaceIndex: ifIndex,
			address:        src.(*net.UDPAddr),
		},
		data: buf[:n],
	}, nil
}

func (t *ipv6Transport) write(data []byte, dest endpoint) error {
	_, err := t.pc.WriteTo(data, &ipv6.ControlMessage{IfIndex: dest.interfaceIndex}, dest.address)
	return err
}

func (t *ipv6Transport) group() *net.UDPAddr { return ipv6GroupAddress }

func (t *ipv6Transport) close() error { return t.pc.Close() }

// multicastInterfaces returns the interfaces eligible for mDNS: up and
// multicast-capable. Loopback interfaces are not excluded.
func multicastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("multicast: unable to enumerate network interfaces: %w", err)
	}

	var ifaces []net.Interface
	for _, i := range all {
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		if i.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaces = append(ifaces, i)
	}

	return ifaces, nil
}
