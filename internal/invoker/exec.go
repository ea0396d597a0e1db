package invoker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"

	"github.com/wesleyorama2/fanout/internal/driver"
)

// DefaultExecBinary is the external client used when none is configured.
const DefaultExecBinary = "redis-cli"

// DefaultExecArgs point redis-cli at the target.
var DefaultExecArgs = []string{"-h", "{host}", "-p", "{port}"}

// stderrTail is how much client stderr is kept in an error.
const stderrTail = 512

// Exec runs an external client process once per invocation. The command name
// and its arguments are appended after Args; {host}, {port} and {addr} in
// Args are replaced with parts of Address.
type Exec struct {
	Binary  string
	Args    []string
	Address string
}

// NewExec creates an Exec invoker. Empty binary or nil args fall back to the
// redis-cli defaults.
func NewExec(binary string, args []string, address string) *Exec {
	if binary == "" {
		binary = DefaultExecBinary
	}
	if args == nil {
		args = DefaultExecArgs
	}
	return &Exec{Binary: binary, Args: args, Address: address}
}

// Invoke implements driver.Invoker. The process is killed when ctx is done.
// Failure to start the process and a non-zero exit status both fail the
// invocation.
func (e *Exec) Invoke(ctx context.Context, cmd driver.Command) error {
	argv, err := e.argv(cmd)
	if err != nil {
		return err
	}

	c := exec.CommandContext(ctx, e.Binary, argv...)
	c.Stdout = io.Discard
	var stderr bytes.Buffer
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", e.Binary, cmd.Name, err, msg)
		}
		return fmt.Errorf("%s %s: %w", e.Binary, cmd.Name, err)
	}
	return nil
}

// argv expands the argument template and appends the command.
func (e *Exec) argv(cmd driver.Command) ([]string, error) {
	host, port := "", ""
	if e.Address != "" {
		h, p, err := net.SplitHostPort(e.Address)
		if err != nil {
			return nil, fmt.Errorf("bad target address %q: %w", e.Address, err)
		}
		host, port = h, p
	}

	r := strings.NewReplacer("{host}", host, "{port}", port, "{addr}", e.Address)
	argv := make([]string, 0, len(e.Args)+len(cmd.Args)+1)
	for _, a := range e.Args {
		argv = append(argv, r.Replace(a))
	}
	argv = append(argv, cmd.Name)
	argv = append(argv, cmd.Args...)
	return argv, nil
}
