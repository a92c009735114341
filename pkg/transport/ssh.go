package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/clos-tools/fabcheck/pkg/topology"
	"github.com/clos-tools/fabcheck/pkg/util"
)

// SSHExecutor reaches a node over SSH. The client connection is dialed
// on first use and reused for the rest of the run; each command gets
// its own session.
type SSHExecutor struct {
	node     string
	addr     string
	user     string
	password string

	client *ssh.Client
}

// NewSSHExecutor builds an SSH executor from a node's endpoint.
func NewSSHExecutor(n *topology.Node) *SSHExecutor {
	return &SSHExecutor{
		node:     n.Name,
		addr:     fmt.Sprintf("%s:%d", n.Endpoint.Host, n.Endpoint.Port),
		user:     n.Endpoint.User,
		password: n.Endpoint.Password,
	}
}

func (s *SSHExecutor) Node() string { return s.node }

// Close tears down the SSH connection if one was established.
func (s *SSHExecutor) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// dial establishes the client connection on first use. Both the TCP
// dial and the SSH handshake are bounded by ctx, so a node that accepts
// TCP but never completes the handshake errors at the configured
// per-call timeout instead of stalling its check group.
func (s *SSHExecutor) dial(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	config := &ssh.ClientConfig{
		User: s.user,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.password),
		},
		// Lab/test environment. Production would need known_hosts verification.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	util.WithNode(s.node).Warnf("SSH to %s: host key verification disabled (InsecureIgnoreHostKey)", s.addr)

	conn, err := new(net.Dialer).DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("SSH dial %s@%s: %w", s.user, s.addr, err)
	}

	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, s.addr, config)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case <-ctx.Done():
		conn.Close() // unblocks the handshake goroutine
		if h := <-done; h.client != nil {
			h.client.Close()
		}
		return fmt.Errorf("SSH handshake %s@%s: %w", s.user, s.addr, ctx.Err())
	case h := <-done:
		if h.err != nil {
			conn.Close()
			return fmt.Errorf("SSH handshake %s@%s: %w", s.user, s.addr, h.err)
		}
		s.client = h.client
		return nil
	}
}

// Execute runs a request in a fresh SSH session. If the context is
// cancelled or times out, the session is killed and the partial output
// returned alongside the error.
func (s *SSHExecutor) Execute(ctx context.Context, req Request) (string, error) {
	if err := s.dial(ctx); err != nil {
		return "", &TransportError{Node: s.node, Cause: err}
	}

	session, err := s.client.NewSession()
	if err != nil {
		return "", &TransportError{Node: s.node, Cause: fmt.Errorf("SSH session: %w", err)}
	}
	defer session.Close()

	cmd := req.Render()
	util.WithNode(s.node).Debugf("ssh %s: %s", s.addr, cmd)

	var outputBuf bytes.Buffer
	session.Stdout = &outputBuf
	session.Stderr = &outputBuf

	if err := session.Start(cmd); err != nil {
		return "", &TransportError{Node: s.node, Cause: fmt.Errorf("SSH start '%s': %w", cmd, err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done // wait for goroutine to finish
		return outputBuf.String(), &TransportError{Node: s.node, Cause: fmt.Errorf("SSH exec '%s': %w", cmd, ctx.Err())}
	case err := <-done:
		if err != nil {
			return outputBuf.String(), &TransportError{Node: s.node, Cause: fmt.Errorf("SSH exec '%s': %w", cmd, err)}
		}
		return outputBuf.String(), nil
	}
}
