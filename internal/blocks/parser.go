// Package blocks parses the line-oriented governance exports into blocks of
// named fields.
//
// The input is a sequence of "CODE: value" lines. A line that does not look
// like a field and is not blank continues the value of the previous field.
// Each occurrence of the marker code starts a new block:
//
//	D: Base
//	M: Alice <alice@example.com>
//	M: Bob <bob@example.com>
//
//	D: Graphics / Wayland
//	N: Graphics
//	O: Display server,
//	   compositor and clients
//
// Codes are expanded through a FieldMap; repeatable fields collect every
// occurrence, other fields keep the last one.
package blocks

import (
	"iter"
	"regexp"
	"strings"
)

var fieldLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):(?:[ \t]+(.*))?$`)

// Option configures Parse.
type Option func(*parseConfig)

type parseConfig struct {
	commentPrefix string
	joiner        string
}

// WithCommentPrefix skips lines starting with prefix.
func WithCommentPrefix(prefix string) Option {
	return func(c *parseConfig) { c.commentPrefix = prefix }
}

// WithJoiner sets the delimiter used to join continuation lines (default " ").
func WithJoiner(joiner string) Option {
	return func(c *parseConfig) { c.joiner = joiner }
}

// Parse returns a lazy sequence of blocks read from text. Iteration stops
// after the first error, which is yielded with a zero Block. The sequence can
// be ranged over any number of times.
func Parse(text, marker string, fields FieldMap, opts ...Option) iter.Seq2[Block, error] {
	cfg := parseConfig{joiner: " "}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(yield func(Block, error) bool) {
		markerField, ok := fields.Lookup(marker)
		if !ok {
			yield(Block{}, &UnknownFieldError{Code: marker})
			return
		}

		var (
			current *Block
			open    string
			lineNo  int
		)
		for raw := range strings.Lines(text) {
			lineNo++
			line := strings.TrimRight(raw, "\r\n")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if cfg.commentPrefix != "" && strings.HasPrefix(line, cfg.commentPrefix) {
				continue
			}

			match := fieldLine.FindStringSubmatch(line)
			if match == nil {
				if current == nil || open == "" {
					yield(Block{}, &MalformedLineError{Line: lineNo, Text: line, Reason: "continuation without a field"})
					return
				}
				current.continueValue(open, strings.TrimSpace(line), cfg.joiner)
				continue
			}

			field, known := fields.Lookup(match[1])
			if !known {
				yield(Block{}, &UnknownFieldError{Code: match[1], Line: lineNo})
				return
			}
			if field.Code == markerField.Code {
				if current != nil && !yield(*current, nil) {
					return
				}
				current = newBlock(markerField.Name, lineNo)
			} else if current == nil {
				yield(Block{}, &MalformedLineError{Line: lineNo, Text: line, Reason: "field before first " + markerField.Code + " marker"})
				return
			}
			current.set(field, strings.TrimRight(match[2], " \t"))
			open = field.Name
		}
		if current != nil {
			yield(*current, nil)
		}
	}
}

// ParseAll collects every block of text, stopping at the first error.
func ParseAll(text, marker string, fields FieldMap, opts ...Option) ([]Block, error) {
	var out []Block
	for block, err := range Parse(text, marker, fields, opts...) {
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}
