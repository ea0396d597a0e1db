// Package resptest provides an in-process RESP server for tests.
package resptest

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/fanout/internal/resp"
)

// Handler answers one command. args[0] is the command name.
type Handler func(args []string) resp.Reply

// Server is a RESP server listening on a loopback port.
type Server struct {
	Addr string

	listener net.Listener
	handler  Handler

	connections  atomic.Int64
	commands     atomic.Int64
	acceptErrors atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer starts a server on a free loopback port answering with handler.
// A nil handler answers PING with +PONG and ECHO with its argument.
func NewServer(handler Handler) (*Server, error) {
	return Listen("127.0.0.1:0", handler)
}

// Listen starts a server on addr.
func Listen(addr string, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return serveOn(ln, handler), nil
}

func serveOn(ln net.Listener, handler Handler) *Server {
	if handler == nil {
		handler = PingEcho
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		listener: ln,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	return s
}

// PingEcho answers PING and ECHO; anything else is an unknown command.
func PingEcho(args []string) resp.Reply {
	switch strings.ToUpper(args[0]) {
	case "PING":
		if len(args) > 1 {
			return resp.Bulk(args[1])
		}
		return resp.SimpleString("PONG")
	case "ECHO":
		if len(args) != 2 {
			return resp.Error("ERR wrong number of arguments for 'echo' command")
		}
		return resp.Bulk(args[1])
	default:
		return resp.Error("ERR unknown command '" + args[0] + "'")
	}
}

// Accept failures such as EMFILE back off like net/http.Server does.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func (s *Server) serve() {
	defer s.wg.Done()
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay = nextAcceptDelay(delay)
			s.acceptErrors.Add(1)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.connections.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(2*prev, maxAcceptDelay)
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		args, err := resp.ReadCommand(r)
		if err != nil {
			return
		}
		s.commands.Add(1)
		if _, err := conn.Write(s.handler(args).Encode()); err != nil {
			return
		}
	}
}

// Connections returns how many connections have been accepted.
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

// Commands returns how many commands have been answered or are being answered.
func (s *Server) Commands() int64 {
	return s.commands.Load()
}

// AcceptErrors returns how many Accept calls failed while the server was open.
func (s *Server) AcceptErrors() int64 {
	return s.acceptErrors.Load()
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.listener.Close()

	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
