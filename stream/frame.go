package stream

import (
	"fmt"
	"strings"
)

// The venue speaks a STOMP-style text protocol over its websocket: a command
// line, header lines, a blank line, then the body, terminated by a NUL byte.

const frameTerminator = "\x00"

// Frame is one parsed inbound message.
type Frame struct {
	Command     string
	Headers     map[string]string
	Destination string
	Body        []byte
}

// ParseFrame splits an inbound message into headers and body. Messages
// without a header/body separator are rejected; the caller logs and skips
// them.
func ParseFrame(data []byte) (Frame, error) {
	text := string(data)
	head, body, found := strings.Cut(text, "\n\n")
	if !found {
		return Frame{}, fmt.Errorf("frame has no header/body separator")
	}

	body = strings.TrimSpace(strings.ReplaceAll(body, frameTerminator, ""))

	frame := Frame{Headers: make(map[string]string), Body: []byte(body)}
	for i, line := range strings.Split(head, "\n") {
		if i == 0 {
			frame.Command = strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		frame.Headers[key] = strings.TrimSpace(value)
	}
	frame.Destination = frame.Headers["destination"]
	return frame, nil
}

// connectFrame builds the handshake CONNECT frame sent on socket open.
func connectFrame() []byte {
	return []byte("CONNECT\n" +
		"accept-version:1.1,1.0\n" +
		"host:localhost\n" +
		"\n" + frameTerminator)
}

// subscribeFrame builds a SUBSCRIBE frame for the given subscription id and
// destination topic.
func subscribeFrame(id, destination string) []byte {
	return []byte("SUBSCRIBE\n" +
		"id:" + id + "\n" +
		"destination:" + destination + "\n" +
		"\n" + frameTerminator)
}
