package stream

import (
	"encoding/json"
	"strings"
)

// doneSentinel terminates a server-sent-event stream without producing a token.
const doneSentinel = "[DONE]"

// decoder turns raw body chunks into tokens. It is stateful: SSE mode
// buffers partial lines between chunks, and auto mode locks onto a
// framing after inspecting the first non-empty chunk.
type decoder struct {
	format   Format
	detected bool
	pending  string
}

func newDecoder(format Format) *decoder {
	return &decoder{
		format:   format,
		detected: format != FormatAuto,
	}
}

// push decodes one chunk. It returns the tokens completed by this chunk
// and whether the end-of-stream sentinel was seen.
func (d *decoder) push(chunk string) (tokens []string, done bool) {
	if chunk == "" {
		return nil, false
	}

	if !d.detected {
		d.detect(chunk)
	}

	if d.format == FormatText {
		return []string{chunk}, false
	}

	d.pending += chunk
	for {
		idx := strings.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(d.pending[:idx], "\r")
		d.pending = d.pending[idx+1:]

		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Blank event terminators and non-data fields carry no tokens.
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == doneSentinel {
			done = true
			continue
		}
		tokens = append(tokens, decodeToken(payload))
	}
	return tokens, done
}

// detect locks the framing from the first chunk's shape.
func (d *decoder) detect(chunk string) {
	if strings.HasPrefix(strings.TrimLeft(chunk, " \t\r\n"), "data:") {
		d.format = FormatSSE
	} else {
		d.format = FormatText
	}
	d.detected = true
}

// decodeToken parses an SSE payload as {"token": ...}. Anything that does
// not parse, or parses without a string token field, falls back to the raw
// payload text.
func decodeToken(payload string) string {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return payload
	}
	if token, ok := envelope["token"].(string); ok {
		return token
	}
	return payload
}
