package protocol

import (
	"errors"
	"strings"
)

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrFrameTooLong  = errors.New("frame exceeds maximum line length")
	ErrBadSigil      = errors.New("unknown frame sigil")
	ErrReservedFrame = errors.New("bulk string and array frames are not supported")
	ErrExpectedName  = errors.New("expected a series name frame")
	ErrBadInteger    = errors.New("can't parse integer")
	ErrBadTimestamp  = errors.New("unexpected timestamp format")
	ErrBadValue      = errors.New("unexpected value format")
	ErrUnexpectedEOF = errors.New("unexpected end of stream")
)

// escapeLine renders client input for an error diagnostic, with line
// terminators made visible and the snippet truncated so a hostile
// payload can't balloon the reply.
func escapeLine(line []byte) string {
	const maxContext = 64

	if len(line) > maxContext {
		line = line[:maxContext]
	}

	s := string(line)
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")

	return s
}
