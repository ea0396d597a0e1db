// Package resp encodes commands and reads replies in the Redis
// serialization protocol (RESP2).
//
// Commands are always sent as an array of bulk strings and exactly one reply
// of any type is read back. ReadCommand and Reply.Encode cover the server
// side, enough for in-process test servers.
package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind is the first byte of a RESP value.
type Kind byte

const (
	KindSimpleString Kind = '+'
	KindError        Kind = '-'
	KindInteger      Kind = ':'
	KindBulkString   Kind = '$'
	KindArray        Kind = '*'
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "simple-string"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulkString:
		return "bulk-string"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("unknown(%q)", byte(k))
	}
}

const (
	delimiter = "\r\n"

	// MaxBulkLength is the largest bulk string accepted in a reply.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLength is the largest array accepted in a reply.
	MaxArrayLength = 1024 * 1024

	maxDepth = 32

	// Bodies and arrays larger than this grow as data arrives instead of
	// being sized from the length header.
	preallocBulk  = 64 * 1024
	preallocElems = 1024
)

// ErrProtocol is wrapped by every malformed-reply error.
var ErrProtocol = errors.New("resp protocol error")

// Reply is one decoded RESP value.
type Reply struct {
	Kind  Kind
	Str   string // simple string, error message or bulk string
	Int   int64
	Null  bool // null bulk string or null array
	Elems []Reply
}

// String renders the reply roughly the way redis-cli prints it.
func (r Reply) String() string {
	switch r.Kind {
	case KindSimpleString:
		return r.Str
	case KindError:
		return "(error) " + r.Str
	case KindInteger:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case KindBulkString:
		if r.Null {
			return "(nil)"
		}
		return strconv.Quote(r.Str)
	case KindArray:
		if r.Null {
			return "(nil)"
		}
		if len(r.Elems) == 0 {
			return "(empty array)"
		}
		parts := make([]string, len(r.Elems))
		for i, e := range r.Elems {
			parts[i] = fmt.Sprintf("%d) %s", i+1, e.String())
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// Err returns an *ErrorReply for error replies and nil otherwise.
func (r Reply) Err() error {
	if r.Kind == KindError {
		return &ErrorReply{Message: r.Str}
	}
	return nil
}

// ErrorReply is a "-ERR ..." reply from the server.
type ErrorReply struct {
	Message string
}

func (e *ErrorReply) Error() string {
	return "server replied with error: " + e.Message
}

// EncodeCommand encodes name and args as a RESP array of bulk strings.
//
//	PING        -> *1\r\n$4\r\nPING\r\n
//	ECHO hello  -> *2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n
func EncodeCommand(name string, args ...string) []byte {
	size := 16
	size += len(name) + 16
	for _, a := range args {
		size += len(a) + 16
	}
	buf := make([]byte, 0, size)

	buf = append(buf, byte(KindArray))
	buf = strconv.AppendInt(buf, int64(len(args)+1), 10)
	buf = append(buf, delimiter...)
	buf = appendBulk(buf, name)
	for _, a := range args {
		buf = appendBulk(buf, a)
	}
	return buf
}

func appendBulk(buf []byte, s string) []byte {
	buf = append(buf, byte(KindBulkString))
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, delimiter...)
	buf = append(buf, s...)
	return append(buf, delimiter...)
}

// WriteCommand writes one encoded command to w.
func WriteCommand(w io.Writer, name string, args ...string) error {
	_, err := w.Write(EncodeCommand(name, args...))
	return err
}

// ReadReply reads exactly one reply from r.
func ReadReply(r *bufio.Reader) (Reply, error) {
	return readReply(r, 0, true)
}

// SkipReply reads exactly one reply from r like ReadReply but discards bulk
// string bodies, leaving Str empty. Memory use does not depend on the size
// of the reply.
func SkipReply(r *bufio.Reader) (Reply, error) {
	return readReply(r, 0, false)
}

func readReply(r *bufio.Reader, depth int, keep bool) (Reply, error) {
	if depth > maxDepth {
		return Reply{}, fmt.Errorf("%w: nesting deeper than %d", ErrProtocol, maxDepth)
	}

	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, fmt.Errorf("%w: empty line", ErrProtocol)
	}

	kind, body := Kind(line[0]), line[1:]
	switch kind {
	case KindSimpleString, KindError:
		return Reply{Kind: kind, Str: body}, nil

	case KindInteger:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad integer %q", ErrProtocol, body)
		}
		return Reply{Kind: kind, Int: n}, nil

	case KindBulkString:
		n, err := parseLength(body, MaxBulkLength)
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return Reply{Kind: kind, Null: true}, nil
		}
		body, err := readBulk(r, n, keep)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: kind, Str: body}, nil

	case KindArray:
		n, err := parseLength(body, MaxArrayLength)
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return Reply{Kind: kind, Null: true}, nil
		}
		elems := make([]Reply, 0, min(n, preallocElems))
		for i := 0; i < n; i++ {
			e, err := readReply(r, depth+1, keep)
			if err != nil {
				return Reply{}, err
			}
			elems = append(elems, e)
		}
		return Reply{Kind: kind, Elems: elems}, nil

	default:
		return Reply{}, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, line[0])
	}
}

// readBulk reads a bulk body of n bytes and its CRLF. Large bodies are
// buffered as they arrive, so a length header alone costs nothing.
func readBulk(r *bufio.Reader, n int, keep bool) (string, error) {
	var body string
	switch {
	case !keep:
		if _, err := r.Discard(n); err != nil {
			return "", fmt.Errorf("reading bulk string: %w", noEOF(err))
		}
	case n <= preallocBulk:
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return "", fmt.Errorf("reading bulk string: %w", err)
		}
		body = string(data)
	default:
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
			return "", fmt.Errorf("reading bulk string: %w", noEOF(err))
		}
		body = buf.String()
	}

	var crlf [len(delimiter)]byte
	if _, err := io.ReadFull(r, crlf[:]); err != nil {
		return "", fmt.Errorf("reading bulk string: %w", err)
	}
	if string(crlf[:]) != delimiter {
		return "", fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocol)
	}
	return body, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readLine reads up to CRLF and returns the line without it.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", fmt.Errorf("%w: truncated line %q", ErrProtocol, line)
		}
		return "", err
	}
	if !strings.HasSuffix(line, delimiter) {
		return "", fmt.Errorf("%w: line not terminated by CRLF", ErrProtocol)
	}
	return line[:len(line)-len(delimiter)], nil
}

func parseLength(s string, limit int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad length %q", ErrProtocol, s)
	}
	if n < -1 || n > limit {
		return 0, fmt.Errorf("%w: length %d out of range", ErrProtocol, n)
	}
	return n, nil
}

// ReadCommand reads one client command. Both RESP arrays of bulk strings and
// inline commands ("PING\r\n") are accepted.
func ReadCommand(r *bufio.Reader) ([]string, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}

	if Kind(b[0]) != KindArray {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: empty inline command", ErrProtocol)
		}
		return args, nil
	}

	reply, err := ReadReply(r)
	if err != nil {
		return nil, err
	}
	if reply.Null || len(reply.Elems) == 0 {
		return nil, fmt.Errorf("%w: empty command array", ErrProtocol)
	}
	args := make([]string, len(reply.Elems))
	for i, e := range reply.Elems {
		if e.Kind != KindBulkString || e.Null {
			return nil, fmt.Errorf("%w: command element %d is not a bulk string", ErrProtocol, i)
		}
		args[i] = e.Str
	}
	return args, nil
}

// Encode serialises the reply.
func (r Reply) Encode() []byte {
	return r.appendTo(nil)
}

func (r Reply) appendTo(buf []byte) []byte {
	switch r.Kind {
	case KindSimpleString, KindError:
		buf = append(buf, byte(r.Kind))
		buf = append(buf, r.Str...)
		return append(buf, delimiter...)
	case KindInteger:
		buf = append(buf, byte(r.Kind))
		buf = strconv.AppendInt(buf, r.Int, 10)
		return append(buf, delimiter...)
	case KindBulkString:
		if r.Null {
			return append(buf, "$-1\r\n"...)
		}
		return appendBulk(buf, r.Str)
	case KindArray:
		if r.Null {
			return append(buf, "*-1\r\n"...)
		}
		buf = append(buf, byte(r.Kind))
		buf = strconv.AppendInt(buf, int64(len(r.Elems)), 10)
		buf = append(buf, delimiter...)
		for _, e := range r.Elems {
			buf = e.appendTo(buf)
		}
		return buf
	default:
		return buf
	}
}

// SimpleString returns a "+s" reply.
func SimpleString(s string) Reply { return Reply{Kind: KindSimpleString, Str: s} }

// Error returns a "-msg" reply.
func Error(msg string) Reply { return Reply{Kind: KindError, Str: msg} }

// Bulk returns a bulk string reply.
func Bulk(s string) Reply { return Reply{Kind: KindBulkString, Str: s} }

// Integer returns a ":n" reply.
func Integer(n int64) Reply { return Reply{Kind: KindInteger, Int: n} }
