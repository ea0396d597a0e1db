package resp

import (
	"bufio"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []string
		want string
	}{
		{"no args", "PING", nil, "*1\r\n$4\r\nPING\r\n"},
		{"one arg", "ECHO", []string{"hello"}, "*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n"},
		{"empty arg", "SET", []string{"k", ""}, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n"},
		{"binary-safe arg", "ECHO", []string{"a b\r\nc"}, "*2\r\n$4\r\nECHO\r\n$6\r\na b\r\nc\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(EncodeCommand(tt.cmd, tt.args...))
			if got != tt.want {
				t.Errorf("EncodeCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadReply(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // Reply.String()
		kind  Kind
	}{
		{"simple string", "+PONG\r\n", "PONG", KindSimpleString},
		{"error", "-ERR unknown command\r\n", "(error) ERR unknown command", KindError},
		{"integer", ":42\r\n", "(integer) 42", KindInteger},
		{"negative integer", ":-7\r\n", "(integer) -7", KindInteger},
		{"bulk string", "$5\r\nhello\r\n", `"hello"`, KindBulkString},
		{"empty bulk string", "$0\r\n\r\n", `""`, KindBulkString},
		{"null bulk string", "$-1\r\n", "(nil)", KindBulkString},
		{"null array", "*-1\r\n", "(nil)", KindArray},
		{"empty array", "*0\r\n", "(empty array)", KindArray},
		{"array", "*2\r\n$1\r\na\r\n:1\r\n", "1) \"a\"\n2) (integer) 1", KindArray},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ReadReply(reader(tt.input))
			if err != nil {
				t.Fatalf("ReadReply() error = %v", err)
			}
			if r.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", r.Kind, tt.kind)
			}
			if r.String() != tt.want {
				t.Errorf("String() = %q, want %q", r.String(), tt.want)
			}
		})
	}
}

func TestReadReply_Nested(t *testing.T) {
	r, err := ReadReply(reader("*2\r\n*1\r\n+a\r\n$-1\r\n"))
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if len(r.Elems) != 2 || len(r.Elems[0].Elems) != 1 {
		t.Fatalf("unexpected shape: %+v", r)
	}
	if r.Elems[0].Elems[0].Str != "a" {
		t.Errorf("inner element = %q, want a", r.Elems[0].Elems[0].Str)
	}
	if !r.Elems[1].Null {
		t.Error("second element should be null")
	}
}

func TestReadReply_ReadsExactlyOne(t *testing.T) {
	br := reader("+OK\r\n:1\r\n")
	first, err := ReadReply(br)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ReadReply(br)
	if err != nil {
		t.Fatal(err)
	}
	if first.Str != "OK" || second.Int != 1 {
		t.Errorf("got %v then %v", first, second)
	}
}

func TestReadReply_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown type byte", "?what\r\n"},
		{"bad integer", ":abc\r\n"},
		{"bad length", "$x\r\n"},
		{"length below -1", "$-2\r\n"},
		{"bare LF", "+OK\n"},
		{"empty line", "\r\n"},
		{"bulk without CRLF", "$3\r\nabcXY"},
		{"truncated line", "+OK"},
		{"array length over limit", "*99999999\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReply(reader(tt.input))
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("ReadReply(%q) error = %v, want ErrProtocol", tt.input, err)
			}
		})
	}
}

func TestReadReply_TooDeep(t *testing.T) {
	input := strings.Repeat("*1\r\n", maxDepth+2) + "+x\r\n"
	_, err := ReadReply(reader(input))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

func TestReadReply_EOF(t *testing.T) {
	_, err := ReadReply(reader(""))
	if !errors.Is(err, io.EOF) {
		t.Errorf("error = %v, want io.EOF", err)
	}

	_, err = ReadReply(reader("$5\r\nhel"))
	if err == nil {
		t.Error("expected error for short bulk string")
	}
}

func TestReadReply_LengthHeaderWithoutBody(t *testing.T) {
	readers := map[string]func(*bufio.Reader) (Reply, error){
		"ReadReply": ReadReply,
		"SkipReply": SkipReply,
	}

	for name, read := range readers {
		t.Run(name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := read(reader("$536870912\r\n"))
			runtime.ReadMemStats(&after)

			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("error = %v, want io.ErrUnexpectedEOF", err)
			}
			if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
				t.Errorf("allocated %d bytes for a bare length header", grew)
			}
		})
	}
}

func TestReadReply_LargeBulk(t *testing.T) {
	body := strings.Repeat("x", 3*preallocBulk+7)
	got, err := ReadReply(reader(string(Bulk(body).Encode()) + "+next\r\n"))
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if got.Str != body {
		t.Errorf("got %d bytes, want %d", len(got.Str), len(body))
	}
}

func TestSkipReply(t *testing.T) {
	r := reader("*3\r\n$5\r\nhello\r\n:3\r\n$-1\r\n+next\r\n")

	got, err := SkipReply(r)
	if err != nil {
		t.Fatalf("SkipReply: %v", err)
	}
	if got.Kind != KindArray || len(got.Elems) != 3 {
		t.Fatalf("got %+v, want a 3-element array", got)
	}
	if e := got.Elems[0]; e.Kind != KindBulkString || e.Str != "" || e.Null {
		t.Errorf("bulk element = %+v, want an empty non-null bulk string", e)
	}
	if got.Elems[1].Int != 3 {
		t.Errorf("integer element = %d, want 3", got.Elems[1].Int)
	}
	if !got.Elems[2].Null {
		t.Errorf("null element = %+v, want null", got.Elems[2])
	}

	next, err := SkipReply(r)
	if err != nil || next.Str != "next" {
		t.Errorf("next reply = %v, %v; want next", next, err)
	}

	if _, err := SkipReply(reader("$3\r\nabcXY")); !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

func TestReply_Err(t *testing.T) {
	if err := SimpleString("OK").Err(); err != nil {
		t.Errorf("Err() on simple string = %v, want nil", err)
	}

	err := Error("ERR boom").Err()
	var er *ErrorReply
	if !errors.As(err, &er) {
		t.Fatalf("Err() = %T, want *ErrorReply", err)
	}
	if er.Message != "ERR boom" {
		t.Errorf("Message = %q", er.Message)
	}
	if !strings.Contains(err.Error(), "ERR boom") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestReadCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"array", "*2\r\n$4\r\nECHO\r\n$2\r\nhi\r\n", []string{"ECHO", "hi"}},
		{"inline", "PING\r\n", []string{"PING"}},
		{"inline with args", "ECHO  hi there\r\n", []string{"ECHO", "hi", "there"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCommand(reader(tt.input))
			if err != nil {
				t.Fatalf("ReadCommand() error = %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ReadCommand() = %q, want %q", got, tt.want)
			}
		})
	}

	for _, bad := range []string{"*0\r\n", "*1\r\n:1\r\n", "   \r\n"} {
		if _, err := ReadCommand(reader(bad)); !errors.Is(err, ErrProtocol) {
			t.Errorf("ReadCommand(%q) error = %v, want ErrProtocol", bad, err)
		}
	}
}

func TestReply_EncodeReadsBack(t *testing.T) {
	replies := []Reply{
		SimpleString("PONG"),
		Error("ERR nope"),
		Integer(-3),
		Bulk("hello\r\nworld"),
		{Kind: KindBulkString, Null: true},
		{Kind: KindArray, Null: true},
		{Kind: KindArray, Elems: []Reply{Bulk("a"), Integer(2), {Kind: KindArray}}},
	}

	for _, want := range replies {
		got, err := ReadReply(reader(string(want.Encode())))
		if err != nil {
			t.Fatalf("ReadReply(%q) error = %v", want.Encode(), err)
		}
		if got.String() != want.String() || got.Kind != want.Kind {
			t.Errorf("decoded %q as %v, want %v", want.Encode(), got, want)
		}
	}
}

func TestEncodeCommand_ReadCommand(t *testing.T) {
	got, err := ReadCommand(reader(string(EncodeCommand("SET", "key", "two words"))))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2] != "two words" {
		t.Errorf("ReadCommand() = %q", got)
	}
}
