package transport

import (
	"bufio"
	"io"
	"strings"
)

// maxSSELineBytes bounds a single SSE line buffer; providers emit
// tool-call-argument deltas in small chunks, never whole-document lines.
const maxSSELineBytes = 1 << 20

// DoneSentinel is the payload OpenAI-compatible streams send to signal the end of the event stream ahead of (or instead of) a normal
// close.
const DoneSentinel = "[DONE]"

// SSEHandler is called once per complete Server-Sent-Event frame.
// eventType is the value of an "event:" line, or "" for an unnamed event.
// data is the joined value of all "data:" lines in the frame.
type SSEHandler func(eventType, data string) error

// DecodeSSE reads Server-Sent-Events frames from r, invoking handler once
// per frame (fields separated by a blank line), stopping at EOF, at a
// handler error, or when handler returns errStop-wrapped via the caller
// checking for DoneSentinel itself (this function does not special-case
// "[DONE]"; callers compare data against DoneSentinel to decide when to
// stop consuming).
func DecodeSSE(r io.Reader, handler SSEHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxSSELineBytes)

	var eventType string
	var dataLines []string

	flush := func() error {
		if eventType == "" && len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		err := handler(eventType, data)
		eventType = ""
		dataLines = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment/keep-alive line, ignored
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return scanner.Err()
}
