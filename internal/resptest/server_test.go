package resptest

import (
	"bufio"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fanout/internal/resp"
)

func TestPingEcho(t *testing.T) {
	tests := []struct {
		args []string
		want resp.Reply
	}{
		{[]string{"PING"}, resp.SimpleString("PONG")},
		{[]string{"ping"}, resp.SimpleString("PONG")},
		{[]string{"PING", "hi"}, resp.Bulk("hi")},
		{[]string{"ECHO", "hello"}, resp.Bulk("hello")},
		{[]string{"ECHO"}, resp.Error("ERR wrong number of arguments for 'echo' command")},
		{[]string{"GET", "k"}, resp.Error("ERR unknown command 'GET'")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PingEcho(tt.args), "args %q", tt.args)
	}
}

func TestServer_ServesSeveralCommandsPerConnection(t *testing.T) {
	srv, err := NewServer(nil)
	require.NoError(t, err)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr)
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	require.NoError(t, resp.WriteCommand(conn, "PING"))
	reply, err := resp.ReadReply(r)
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply.Str)

	// Inline form, as typed over telnet.
	_, err = conn.Write([]byte("ECHO hi\r\n"))
	require.NoError(t, err)
	reply, err = resp.ReadReply(r)
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Str)

	assert.Equal(t, int64(1), srv.Connections())
	assert.Equal(t, int64(2), srv.Commands())
}

func TestServer_CloseDropsConnections(t *testing.T) {
	srv, err := NewServer(nil)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", srv.Addr)
	require.NoError(t, err)
	defer conn.Close()

	// Make sure the server registered the connection.
	require.NoError(t, resp.WriteCommand(conn, "PING"))
	_, err = resp.ReadReply(bufio.NewReader(conn))
	require.NoError(t, err)

	srv.Close()

	_, err = net.Dial("tcp", srv.Addr)
	assert.Error(t, err, "listener still accepting after Close")
}

// flakyListener fails every Accept with EMFILE until it is closed.
type flakyListener struct {
	net.Listener
	accepts atomic.Int64
	closed  chan struct{}
}

func (l *flakyListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	l.accepts.Add(1)
	return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
}

func (l *flakyListener) Close() error {
	close(l.closed)
	return l.Listener.Close()
}

func TestServer_BacksOffOnAcceptErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	flaky := &flakyListener{Listener: ln, closed: make(chan struct{})}

	s := serveOn(flaky, nil)
	time.Sleep(100 * time.Millisecond)
	s.Close()

	// 5+10+20+40ms fit in 100ms; a busy loop would make thousands of calls.
	assert.LessOrEqual(t, flaky.accepts.Load(), int64(10))
	assert.GreaterOrEqual(t, s.AcceptErrors(), int64(2))
}

func TestNextAcceptDelay(t *testing.T) {
	tests := []struct {
		prev, want time.Duration
	}{
		{0, minAcceptDelay},
		{minAcceptDelay, 2 * minAcceptDelay},
		{600 * time.Millisecond, maxAcceptDelay},
		{maxAcceptDelay, maxAcceptDelay},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextAcceptDelay(tt.prev), "prev %v", tt.prev)
	}
}
