// Package events consumes the vicky server-push channels: the global task event stream
// and the per-task log streams.
package events

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Message is one dispatched server-sent event.
type Message struct {
	ID    string
	Event string
	Data  string
	// Retry is the reconnect delay requested by the server, zero if none.
	Retry time.Duration
}

// Decoder reads server-sent events from a text/event-stream body.
type Decoder struct {
	r *bufio.Reader
}

// maxLineSize bounds a single SSE line. Longer lines are cut to this size and the rest is
// discarded, so one huge build log line still counts as one message.
const maxLineSize = 1 << 20

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// readLine returns the next line without its terminator, truncated to maxLineSize.
func (d *Decoder) readLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		if err != nil {
			return "", err
		}
		if room := maxLineSize - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// Next blocks until a complete event is available. It returns io.EOF once the stream
// ends; a trailing event without its blank line terminator is discarded.
func (d *Decoder) Next() (Message, error) {
	var (
		msg     Message
		data    strings.Builder
		hasData bool
	)

	for {
		raw, err := d.readLine()
		if err != nil {
			return Message{}, err
		}
		line := strings.TrimSuffix(raw, "\r")

		if line == "" {
			if !hasData {
				// Nothing to dispatch; reset per the event-stream rules.
				msg = Message{}
				continue
			}
			msg.Data = data.String()
			return msg, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			msg.Event = value
		case "id":
			if !strings.Contains(value, "\x00") {
				msg.ID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				msg.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}
