package inc

import (
	"io"
	"net"

	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/monitor"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

// UDPNet runs the protocol on real UDP sockets. Each Listen spawns
// one reader goroutine; the receive callback must be safe for
// concurrent use.
type UDPNet struct{}

func udpAddr(a plan.NetAddr) *net.UDPAddr {
	ip := net.IPv4(byte(a.IPv4>>24), byte(a.IPv4>>16), byte(a.IPv4>>8), byte(a.IPv4))
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}

func fromUDPAddr(a *net.UDPAddr) plan.NetAddr {
	ip := a.IP.To4()
	if ip == nil {
		return plan.NetAddr{Port: uint16(a.Port)}
	}
	return plan.NetAddr{IPv4: plan.PackIPv4(ip), Port: uint16(a.Port)}
}

func (u *UDPNet) Listen(local plan.NetAddr, recv func(src plan.NetAddr, p []byte)) (io.Closer, error) {
	conn, err := net.ListenUDP("udp4", udpAddr(local))
	if err != nil {
		return nil, err
	}
	go readLoop(conn, recv)
	return conn, nil
}

func readLoop(conn *net.UDPConn, recv func(src plan.NetAddr, p []byte)) {
	m := monitor.GetMonitor()
	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !isNetClosingErr(err) {
				log.Errorf("ReadFromUDP: %v", err)
			}
			return
		}
		p := make([]byte, n)
		copy(p, buf[:n])
		a := fromUDPAddr(src)
		m.Ingress(int64(n), a)
		recv(a, p)
	}
}

func (u *UDPNet) Open(local plan.NetAddr) (func(dst plan.NetAddr, p []byte) error, io.Closer, error) {
	conn, err := net.ListenUDP("udp4", udpAddr(local))
	if err != nil {
		return nil, nil, err
	}
	m := monitor.GetMonitor()
	send := func(dst plan.NetAddr, p []byte) error {
		n, err := conn.WriteToUDP(p, udpAddr(dst))
		if err != nil {
			return err
		}
		m.Egress(int64(n), dst)
		return nil
	}
	return send, conn, nil
}

func isNetClosingErr(err error) bool {
	// file:///$GOROOT/src/internal/poll/fd.go:18:
	// var ErrNetClosing = errors.New("use of closed network connection")
	const msg = `use of closed network connection`
	if e, ok := err.(*net.OpError); ok {
		return msg == e.Err.Error()
	}
	return false
}
