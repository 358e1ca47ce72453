// Package ssh is a thin wrapper for golang.org/x/crypto/ssh.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/utils/iostream"
	"golang.org/x/crypto/ssh"
)

var defaultTimeout = 8 * time.Second

// Config is a pair of user and host.
type Config struct {
	User string
	Host string
}

func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	const defaultPort = "22"
	return net.JoinHostPort(host, defaultPort)
}

func withDefaultUser(name string) string {
	if len(name) == 0 {
		if u, err := user.Current(); err == nil {
			return u.Username
		}
	}
	return name
}

func completeConfig(config Config) Config {
	return Config{
		User: withDefaultUser(config.User),
		Host: withDefaultPort(config.Host),
	}
}

func newSSHClient(config Config) (*ssh.Client, error) {
	config = completeConfig(config)
	key, err := defaultKeyFile()
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(key),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         defaultTimeout,
	}
	return ssh.Dial("tcp", config.Host, clientConfig)
}

// Client is a wrapper for ssh.Client.
type Client struct {
	config Config
	client *ssh.Client
}

// New creates a connected Client.
func New(cfg Config) (*Client, error) {
	client, err := newSSHClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cfg, client}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("%s@%s", c.config.User, c.config.Host)
}

// Watch runs cmd on the remote side and streams its output into the
// redirectors until it exits or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, cmd string, redirectors []*iostream.StdWriters) error {
	session, err := c.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return err
	}
	if err := session.RequestPty("xterm", 80, 40, nil); err != nil {
		return err
	}
	results := iostream.StdReaders{Stdout: stdout, Stderr: stderr}
	ioDone := results.Stream(redirectors...)
	if err := session.Start(cmd); err != nil {
		return err
	}
	done := make(chan error)
	go func() {
		ioDone.Wait() // before session.Wait
		done <- session.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	}
}

func defaultKeyFile() (ssh.Signer, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		buf, err := os.ReadFile(path.Join(usr.HomeDir, ".ssh", name))
		if err != nil {
			lastErr = err
			continue
		}
		return ssh.ParsePrivateKey(buf)
	}
	return nil, lastErr
}

// Close closes the client.
func (c *Client) Close() error {
	return c.client.Close()
}
