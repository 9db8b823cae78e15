package rpc

import (
	"bufio"
	"context"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// processStopTimeout is how long Close waits for the child to exit
// after its stdin is closed, before killing it.
const processStopTimeout = 5 * time.Second

// Process is a tool server running as a child process,
// speaking the protocol over its stdin and stdout.
type Process struct {
	*Client
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
	// stderrDone is closed when the child stderr is drained
	stderrDone chan struct{}
}

// StartProcess starts the command and returns a client connected to its stdio.
// The child stderr is forwarded to the package logger.
func StartProcess(ctx context.Context, name string, args []string, opts ...ClientOption) (*Process, error) {
	cmd := exec.Command(name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stderr")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", name)
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "started", "cmd", name, "pid", cmd.Process.Pid)

	p := &Process{
		cmd:        cmd,
		exited:     make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go func() {
		defer close(p.stderrDone)
		forwardStderr(name, stderr)
	}()

	opts = append([]ClientOption{WithName(name)}, opts...)
	p.Client = newClient(newConn(stdout, stdin, stdin), opts...)

	return p, nil
}

// Pid returns the child process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Close closes the connection and waits for the child to exit,
// the child is killed if it does not exit in time.
func (p *Process) Close() error {
	_ = p.Client.Close()

	// the child exits on stdin EOF
	p.waitOnce.Do(func() {
		go func() {
			// Wait closes the pipes, stderr must be read to EOF first
			<-p.stderrDone
			p.waitErr = p.cmd.Wait()
			close(p.exited)
		}()
	})

	select {
	case <-p.exited:
	case <-time.After(processStopTimeout):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return errors.WithStack(p.waitErr)
	}
	return nil
}

func forwardStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.KV(xlog.DEBUG, "cmd", name, "stderr", scanner.Text())
	}
	// keep draining a line longer than the scanner buffer
	_, _ = io.Copy(io.Discard, r)
}

// Dial connects to a tool server listening on the address
func Dial(ctx context.Context, network, address string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	opts = append([]ClientOption{WithName(address)}, opts...)
	return NewClient(conn, opts...), nil
}
