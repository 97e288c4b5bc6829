package engine

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const maxStreamLine = 4 << 20

// StreamParser reads an OpenAI-style server-sent event stream
type StreamParser struct {
	scanner *bufio.Scanner
}

// NewStreamParser creates a new stream parser
func NewStreamParser(r io.Reader) *StreamParser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxStreamLine)
	return &StreamParser{scanner: s}
}

// StreamChunk is one decoded delta
type StreamChunk struct {
	Content      string
	FinishReason string
	Done         bool
}

// Next returns the next chunk carrying content or a terminal marker.
// Malformed data lines are skipped.
func (p *StreamParser) Next() (*StreamChunk, error) {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return &StreamChunk{Done: true}, nil
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		return &StreamChunk{
			Content:      choice.Delta.Content,
			FinishReason: choice.FinishReason,
			Done:         choice.FinishReason != "",
		}, nil
	}

	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	return &StreamChunk{Done: true}, nil
}

// Collect drains the stream into a single string.
func (p *StreamParser) Collect() (string, string, error) {
	var sb strings.Builder
	var finish string
	for {
		chunk, err := p.Next()
		if err != nil {
			return sb.String(), finish, err
		}
		sb.WriteString(chunk.Content)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Done {
			return sb.String(), finish, nil
		}
	}
}
