package watchdog

import (
	"context"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ICMPProber sends a single unprivileged ICMP echo request to Host and
// waits for the matching reply, reimplementing watchdog.py's ping3-based
// check as a real echo over a datagram socket rather than shelling out to
// the system ping binary.
type ICMPProber struct {
	Host string
	id   int
}

func NewICMPProber(host string) *ICMPProber {
	return &ICMPProber{Host: host, id: os.Getpid() & 0xffff}
}

func (p *ICMPProber) Probe(ctx context.Context, timeout time.Duration) bool {
	if p.Host == "" {
		return false
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", p.Host)
	if err != nil {
		return false
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  1,
			Data: []byte("databridge-watchdog"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	if _, err := conn.WriteTo(wb, &net.UDPAddr{IP: dst.IP}); err != nil {
		return false
	}

	rb := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if time.Now().After(deadline) {
			return false
		}
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return false
		}
		reply, err := icmp.ParseMessage(1, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if echo.ID == p.id {
			return true
		}
	}
}
