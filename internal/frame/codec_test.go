package frame

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParse_Send(t *testing.T) {
	wire := "SEND\ndestination:/topic/news\ncontent-type:text/plain\n\nhello\x00"
	f, err := Parse(bufio.NewReader(strings.NewReader(wire)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Command != CmdSend {
		t.Errorf("Command = %s, want SEND", f.Command)
	}
	if f.Destination() != "/topic/news" {
		t.Errorf("Destination = %s, want /topic/news", f.Destination())
	}
	if string(f.Body) != "hello" {
		t.Errorf("Body = %q, want %q", f.Body, "hello")
	}
}

func TestParse_EmptyBody(t *testing.T) {
	wire := "SUBSCRIBE\nid:sub-1\ndestination:/queue/work\n\n\x00"
	f, err := Parse(bufio.NewReader(strings.NewReader(wire)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.SubscriptionID() != "sub-1" {
		t.Errorf("SubscriptionID = %s, want sub-1", f.SubscriptionID())
	}
	if len(f.Body) != 0 {
		t.Errorf("Body = %q, want empty", f.Body)
	}
}

func TestParse_Heartbeat(t *testing.T) {
	f, err := Parse(bufio.NewReader(strings.NewReader("\n")))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f != nil {
		t.Errorf("heartbeat parsed as frame: %+v", f)
	}
}

func TestParse_CRLF(t *testing.T) {
	wire := "MESSAGE\r\ndestination:/topic/a\r\nsubscription:s1\r\n\r\nbody\x00"
	f, err := Parse(bufio.NewReader(strings.NewReader(wire)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.SubscriptionID() != "s1" {
		t.Errorf("SubscriptionID = %s, want s1", f.SubscriptionID())
	}
	if string(f.Body) != "body" {
		t.Errorf("Body = %q, want body", f.Body)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"unknown command", "PUBLISH\n\n\x00"},
		{"bad header", "SEND\nnocolonhere\n\n\x00"},
		{"empty header name", "SEND\n:value\n\n\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(bufio.NewReader(strings.NewReader(tt.wire)))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestParse_RepeatedHeaderFirstWins(t *testing.T) {
	wire := "SEND\ndestination:/topic/a\ndestination:/topic/b\n\n\x00"
	f, err := Parse(bufio.NewReader(strings.NewReader(wire)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Destination() != "/topic/a" {
		t.Errorf("Destination = %s, want /topic/a", f.Destination())
	}
}

func TestParse_BodyTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("SEND\ndestination:/topic/big\n\n")
	buf.Write(bytes.Repeat([]byte("x"), MaxBodySize+2))
	buf.WriteByte(0)

	_, err := Parse(bufio.NewReader(&buf))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Parse error = %v, want ErrMalformedFrame", err)
	}
}

func TestParse_BodyAtLimit(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("SEND\ndestination:/topic/big\n\n")
	buf.Write(bytes.Repeat([]byte("x"), MaxBodySize))
	buf.WriteByte(0)

	f, err := Parse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(f.Body) != MaxBodySize {
		t.Errorf("Body length = %d, want %d", len(f.Body), MaxBodySize)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	f := NewMessage("/topic/news", "sub-9", []byte(`{"text":"hi"}`))
	got, err := ParseBytes(Marshal(f))
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	if got.Command != CmdMessage {
		t.Errorf("Command = %s, want MESSAGE", got.Command)
	}
	if got.Destination() != "/topic/news" {
		t.Errorf("Destination = %s, want /topic/news", got.Destination())
	}
	if got.SubscriptionID() != "sub-9" {
		t.Errorf("SubscriptionID = %s, want sub-9", got.SubscriptionID())
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Errorf("Body = %q, want %q", got.Body, f.Body)
	}
}

func TestParse_Stream(t *testing.T) {
	// Two frames separated by a heartbeat on one reader.
	wire := "SEND\ndestination:/topic/a\n\none\x00\n" +
		"SEND\ndestination:/topic/b\n\ntwo\x00"
	r := bufio.NewReader(strings.NewReader(wire))

	f1, err := Parse(r)
	if err != nil {
		t.Fatalf("first Parse failed: %v", err)
	}
	if string(f1.Body) != "one" {
		t.Errorf("first Body = %q, want one", f1.Body)
	}

	// The stray newline after the terminator reads as a heartbeat.
	hb, err := Parse(r)
	if err != nil || hb != nil {
		t.Fatalf("expected heartbeat, got frame=%v err=%v", hb, err)
	}

	f2, err := Parse(r)
	if err != nil {
		t.Fatalf("second Parse failed: %v", err)
	}
	if f2.Destination() != "/topic/b" {
		t.Errorf("second Destination = %s, want /topic/b", f2.Destination())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{"send ok", &Frame{Command: CmdSend, Headers: map[string]string{HdrDestination: "/topic/a"}}, false},
		{"send no destination", &Frame{Command: CmdSend}, true},
		{"subscribe no id", &Frame{Command: CmdSubscribe, Headers: map[string]string{HdrDestination: "/topic/a"}}, true},
		{"unsubscribe ok", &Frame{Command: CmdUnsubscribe, Headers: map[string]string{HdrID: "s1"}}, false},
		{"message no subscription", &Frame{Command: CmdMessage, Headers: map[string]string{HdrDestination: "/topic/a"}}, true},
		{"disconnect ok", &Frame{Command: CmdDisconnect}, false},
		{"unknown command", &Frame{Command: Command("NOPE")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
