package gemini

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamDecoder turns an SSE response body into text fragments.
type StreamDecoder struct {
	reader *bufio.Reader
	full   strings.Builder
}

// NewStreamDecoder wraps a StreamGenerate response body.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{reader: bufio.NewReader(r)}
}

// Next returns the next text fragment from the stream. io.EOF signals a
// clean end; any other error is a transport or decode failure.
func (d *StreamDecoder) Next() (string, error) {
	for {
		line, err := d.reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := strings.TrimSpace(line)
			if payload, ok := strings.CutPrefix(trimmed, "data:"); ok {
				payload = strings.TrimSpace(payload)
				if payload == "" || payload == "[DONE]" {
					continue
				}
				var chunk generateResponse
				if decErr := json.Unmarshal([]byte(payload), &chunk); decErr != nil {
					return "", decErr
				}
				text := chunkText(chunk)
				if text == "" {
					continue
				}
				d.full.WriteString(text)
				return text, nil
			}
		}
		if err != nil {
			return "", err
		}
	}
}

// Full returns the concatenation of all fragments returned so far.
func (d *StreamDecoder) Full() string {
	return d.full.String()
}

// chunkText extracts fragment text without trimming: partial chunks carry
// meaningful leading/trailing whitespace.
func chunkText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
