package sim

import (
	"bytes"
	"testing"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
)

func Test_StreamDuplex(t *testing.T) {
	loop := event.NewLoop()
	n := NewStreamNet(loop, time.Millisecond, 0, 1)
	la := addr(`10.0.0.1`, 9000)

	var serverGot bytes.Buffer
	var server *StreamConn
	closer, err := n.Listen(la, func(c *StreamConn) func(p []byte) {
		server = c
		return func(p []byte) { serverGot.Write(p) }
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer closer.Close()

	var clientGot bytes.Buffer
	client, err := n.Dial(la, func(p []byte) { clientGot.Write(p) })
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Send([]byte(`ping`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := server.Send([]byte(`pong`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	loop.Run()
	if got := serverGot.String(); got != `ping` {
		t.Errorf("server got %q", got)
	}
	if got := clientGot.String(); got != `pong` {
		t.Errorf("client got %q", got)
	}
}

func Test_StreamChunking(t *testing.T) {
	loop := event.NewLoop()
	n := NewStreamNet(loop, time.Millisecond, 7, 3)
	la := addr(`10.0.0.1`, 9000)

	n.Listen(la, func(c *StreamConn) func(p []byte) {
		return func(p []byte) {}
	})
	var got bytes.Buffer
	var chunks int
	client, err := n.Dial(la, func(p []byte) {
		chunks++
		got.Write(p)
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var want bytes.Buffer
	var server *StreamConn
	n.mu.Lock()
	server = client.peer
	n.mu.Unlock()
	for i := 0; i < 16; i++ {
		msg := bytes.Repeat([]byte{byte(i)}, 53)
		want.Write(msg)
		if err := server.Send(msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	loop.Run()
	if !bytes.Equal(got.Bytes(), want.Bytes()) {
		t.Fatalf("stream bytes corrupted by re-chunking")
	}
	if chunks <= 16 {
		t.Errorf("got %d chunks for 16 sends, want splits", chunks)
	}
}

func Test_StreamClosed(t *testing.T) {
	loop := event.NewLoop()
	n := NewStreamNet(loop, time.Millisecond, 0, 1)
	la := addr(`10.0.0.1`, 9000)

	n.Listen(la, func(c *StreamConn) func(p []byte) {
		return func(p []byte) {}
	})
	client, err := n.Dial(la, func(p []byte) {})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Close()
	if err := client.Send([]byte{1}); err == nil {
		t.Errorf("send on closed connection should fail")
	}
	if _, err := n.Dial(addr(`10.0.0.9`, 1), func(p []byte) {}); err == nil {
		t.Errorf("dial with no listener should fail")
	}
}
