// Package parse holds the downstream message parser contract. The core hands
// each assembled message to a Parser and logs the resulting segments; it
// never interprets them.
package parse

import (
	"fmt"
	"strings"
)

// Segment is one ordered unit of a decomposed message.
type Segment struct {
	Name   string
	Fields []string
}

// Parser accepts an assembled message and returns its ordered segments.
type Parser interface {
	Parse(message string) ([]Segment, error)
}

// SegmentParser splits pipe-delimited messages of the MSH|...\nEVN|... shape
// into segments, one per line, fields split on the pipe.
type SegmentParser struct{}

// Parse implements Parser.
func (SegmentParser) Parse(message string) ([]Segment, error) {
	trimmed := strings.TrimRight(message, "\r\n")
	if trimmed == "" {
		return nil, fmt.Errorf("empty message")
	}

	var segments []Segment
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if fields[0] == "" {
			return nil, fmt.Errorf("segment %d has no name", i+1)
		}
		segments = append(segments, Segment{Name: fields[0], Fields: fields[1:]})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("message has no segments")
	}
	return segments, nil
}
