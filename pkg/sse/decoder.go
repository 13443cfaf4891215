// Package sse decodes the wire framing of the realtime database push
// protocol, a Server-Sent-Events stream: frames are groups of "field: value"
// lines terminated by a blank line.
//
// The decoder only understands framing. What a "put" or "patch" frame means
// is the session's business.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/k2bd/firebasil.go/pkg/constants"
)

// Frame is one decoded push-protocol frame.
type Frame struct {
	// Event is the frame's event name ("put", "patch", "keep-alive", ...).
	Event string

	// Data is the raw JSON payload, nil when the frame carried none.
	Data []byte
}

// Decoder incrementally decodes frames from a byte stream. It reads only as
// many bytes as the next frame needs, so it works on an unbounded network
// body, and it tolerates frames split at arbitrary byte boundaries by the
// transport.
//
// A Decoder is single-use: create a fresh one for every connection attempt.
type Decoder struct {
	br *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Next blocks until a complete frame has been read and returns it.
//
// It returns io.EOF when the stream ends cleanly between frames, an I/O
// error if the underlying read fails, and constants.ErrMalformedFrame if a
// completed frame's data payload is not valid JSON.
func (d *Decoder) Next() (*Frame, error) {
	var (
		event     string
		dataLines []string
		inFrame   bool
	)

	for {
		line, err := d.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && !inFrame && line == "" {
				return nil, io.EOF
			}
			// A frame truncated mid-line is a connection problem, not a
			// protocol one.
			return nil, fmt.Errorf("reading event stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !inFrame {
				// Keep-alive padding between frames.
				continue
			}
			return d.finish(event, dataLines)
		}

		if strings.HasPrefix(line, ":") {
			// Comment line, used by servers as connection padding.
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			event = value
			inFrame = true
		case "data":
			dataLines = append(dataLines, value)
			inFrame = true
		default:
			// Unrecognized fields (id, retry, ...) are discarded.
		}
	}
}

func (d *Decoder) finish(event string, dataLines []string) (*Frame, error) {
	f := &Frame{Event: event}
	if len(dataLines) > 0 {
		data := []byte(strings.Join(dataLines, "\n"))
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: event %q carries invalid JSON data", constants.ErrMalformedFrame, event)
		}
		f.Data = data
	}
	return f, nil
}

func splitField(line string) (field, value string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
