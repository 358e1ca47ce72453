package ring

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/config"
	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

// TCPTransport runs the ring over real TCP streams. BufSize, when
// positive, sizes the socket buffers of every accepted and dialed
// connection.
type TCPTransport struct {
	BufSize int
}

func (t TCPTransport) Listen(local plan.NetAddr, accept func(c Conn) func(p []byte)) (io.Closer, error) {
	ln, err := net.Listen("tcp4", local.String())
	if err != nil {
		return nil, err
	}
	go t.serve(ln, accept)
	return ln, nil
}

func (t TCPTransport) serve(ln net.Listener, accept func(c Conn) func(p []byte)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isNetClosingErr(err) {
				break
			}
			log.Infof("Accept failed: %v", err)
			continue
		}
		t.tune(conn)
		sink := accept(&tcpConn{conn: conn})
		go readLoop(conn, sink)
	}
}

var errCantEstablishConnection = errors.New("can't establish connection")

func (t TCPTransport) Dial(remote plan.NetAddr, recv func(p []byte)) (Conn, error) {
	t0 := time.Now()
	for i := 0; i <= config.DialRetryCount; i++ {
		conn, err := net.Dial("tcp", remote.String())
		if err == nil {
			log.Debugf("connection to %s established after %d trials, took %s", remote, i+1, time.Since(t0))
			t.tune(conn)
			go readLoop(conn, recv)
			return &tcpConn{conn: conn}, nil
		}
		log.Debugf("failed to connect to %s for %d times: %v", remote, i+1, err)
		time.Sleep(config.DialRetryPeriod)
	}
	return nil, errCantEstablishConnection
}

func (t TCPTransport) tune(conn net.Conn) {
	if t.BufSize <= 0 {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetReadBuffer(t.BufSize)
		tc.SetWriteBuffer(t.BufSize)
	}
}

func readLoop(conn net.Conn, recv func(p []byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			recv(p)
		}
		if err != nil {
			if err != io.EOF && !isNetClosingErr(err) {
				log.Warnf("read: %v", err)
			}
			return
		}
	}
}

type tcpConn struct {
	sync.Mutex
	conn net.Conn
}

func (c *tcpConn) Send(p []byte) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.conn.Write(p)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// check if error is internal/poll.ErrNetClosing
func isNetClosingErr(err error) bool {
	// file:///$GOROOT/src/internal/poll/fd.go:18:
	// var ErrNetClosing = errors.New("use of closed network connection")
	const msg = `use of closed network connection`
	if e, ok := err.(*net.OpError); ok {
		return msg == e.Err.Error()
	}
	return false
}
