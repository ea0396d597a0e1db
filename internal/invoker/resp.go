// Package invoker provides the ways a batch can reach its target: a native
// RESP client that opens one TCP connection per invocation, and an external
// client process such as redis-cli.
package invoker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wesleyorama2/fanout/internal/driver"
	"github.com/wesleyorama2/fanout/internal/resp"
)

// DefaultDialTimeout bounds connection setup when the context has no deadline.
const DefaultDialTimeout = 5 * time.Second

// RESP sends each command over a fresh TCP connection and reads one reply.
type RESP struct {
	Address string
	Dialer  *net.Dialer
}

// NewRESP creates a RESP invoker for address (host:port).
func NewRESP(address string) *RESP {
	return &RESP{
		Address: address,
		Dialer:  &net.Dialer{Timeout: DefaultDialTimeout},
	}
}

// Invoke implements driver.Invoker. An error reply from the server counts as
// a failed invocation; any other reply is a success. Reply payloads are
// read and dropped.
func (r *RESP) Invoke(ctx context.Context, cmd driver.Command) error {
	reply, err := r.exchange(ctx, cmd, resp.SkipReply)
	if err != nil {
		return err
	}
	return reply.Err()
}

// Do sends cmd and returns the decoded reply.
func (r *RESP) Do(ctx context.Context, cmd driver.Command) (resp.Reply, error) {
	return r.exchange(ctx, cmd, resp.ReadReply)
}

func (r *RESP) exchange(ctx context.Context, cmd driver.Command, read func(*bufio.Reader) (resp.Reply, error)) (resp.Reply, error) {
	dialer := r.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: DefaultDialTimeout}
	}

	conn, err := dialer.DialContext(ctx, "tcp", r.Address)
	if err != nil {
		return resp.Reply{}, fmt.Errorf("dial %s: %w", r.Address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return resp.Reply{}, fmt.Errorf("set deadline: %w", err)
		}
	}
	// Unblock pending reads and writes as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := resp.WriteCommand(conn, cmd.Name, cmd.Args...); err != nil {
		return resp.Reply{}, fmt.Errorf("send %s: %w", cmd.Name, err)
	}

	reply, err := read(bufio.NewReader(conn))
	if err != nil {
		return resp.Reply{}, fmt.Errorf("read reply to %s: %w", cmd.Name, err)
	}
	return reply, nil
}
