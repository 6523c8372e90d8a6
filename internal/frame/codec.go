package frame

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxHeaderLines bounds the header block of a single frame.
	MaxHeaderLines = 64

	// MaxBodySize bounds the payload of a single frame.
	MaxBodySize = 1 << 20
)

// Heartbeat is the on-wire heartbeat: a bare newline.
var Heartbeat = []byte("\n")

// Parse reads one frame from r. It returns (nil, nil) for a heartbeat.
// Parse errors wrap ErrMalformedFrame; io errors are returned as-is so
// callers can distinguish a broken transport from a broken client.
func Parse(r *bufio.Reader) (*Frame, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	// Bare newline between frames is a heartbeat.
	if len(line) == 0 {
		return nil, nil
	}

	cmd := Command(line)
	switch cmd {
	case CmdConnect, CmdConnected, CmdSend, CmdSubscribe, CmdUnsubscribe,
		CmdMessage, CmdError, CmdDisconnect:
	default:
		return nil, fmt.Errorf("%w: command %q", ErrMalformedFrame, line)
	}

	f := New(cmd)
	for i := 0; ; i++ {
		if i >= MaxHeaderLines {
			return nil, fmt.Errorf("%w: too many headers", ErrMalformedFrame)
		}
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break // blank line ends the header block
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: header %q", ErrMalformedFrame, line)
		}
		// First occurrence wins on repeated headers.
		if _, exists := f.Headers[name]; !exists {
			f.Headers[name] = value
		}
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		f.Body = body
	}
	return f, nil
}

// ParseBytes parses a single frame from a byte slice.
func ParseBytes(data []byte) (*Frame, error) {
	return Parse(bufio.NewReader(bytes.NewReader(data)))
}

// Marshal renders the frame in wire form, NUL-terminated.
func Marshal(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')
	for name, value := range f.Headers {
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// WriteTo writes the frame in wire form to w.
func WriteTo(w io.Writer, f *Frame) error {
	_, err := w.Write(Marshal(f))
	return err
}

// readLine reads up to \n, tolerating \r\n line endings.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// readBody reads until the NUL terminator. The limit is enforced while
// reading, so a peer that never sends the terminator cannot force the
// whole stream into memory first.
func readBody(r *bufio.Reader) ([]byte, error) {
	var body []byte
	for {
		chunk, err := r.ReadSlice(0)
		if len(body)+len(chunk) > MaxBodySize+1 {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedFrame, MaxBodySize)
		}
		body = append(body, chunk...)
		if err == nil {
			// A trailing newline after the NUL is consumed by the next
			// readLine as a heartbeat, which is harmless.
			return body[:len(body)-1], nil
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
}
