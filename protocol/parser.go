package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/luma/stela/series"
)

// DefaultMaxLineBytes bounds how many bytes a single line may buffer
// before the parser gives up on ever seeing a terminator.
const DefaultMaxLineBytes = 1024

// maxIntegerDigits is the most decimal digits an integer frame may
// carry. A uint64 needs at most 20.
const maxIntegerDigits = 20

// Point is the logical write unit: a validated series identifier, a
// timestamp in nanoseconds, and a value. A Point is only emitted once
// all three of its frames have parsed and validated.
type Point struct {
	Series    series.Identifier
	Timestamp uint64
	Value     float64
}

// Outcome is one result of feeding bytes to the Parser: either a
// committed Point or the error that aborted the current write. Exactly
// one of the fields is set.
type Outcome struct {
	Point *Point
	Err   error
}

type parseState int

const (
	// awaitLine: no write in progress, the next frame must be a
	// series name.
	awaitLine parseState = iota

	// nameParsed: the series name validated, expecting a timestamp.
	nameParsed

	// timestampParsed: expecting a value, after which the point
	// commits.
	timestampParsed

	// discardLine: an unterminated line overflowed the limit. Bytes
	// are dropped until the next terminator resynchronises us.
	discardLine

	// absorbError: a write failed and its error was emitted. The
	// write's remaining frames are absorbed without further outcomes;
	// the next line that parses as a valid series identifier starts a
	// fresh write.
	absorbError
)

// Parser is the incremental framing and validation state machine for
// one connection. Feed it raw bytes as they arrive; it hands back
// committed Points and error outcomes as soon as the offending or
// completing line is fully read. It never withholds an outcome to
// wait for bytes that a line already proven invalid can't supply.
//
// A Parser is owned by exactly one Session and is not safe for
// concurrent use.
type Parser struct {
	maxLineBytes int

	buf   []byte
	state parseState

	// The partially built write. Valid in nameParsed and
	// timestampParsed.
	ident series.Identifier
	ts    uint64
}

// NewParser returns a Parser enforcing maxLineBytes as the longest
// unterminated line it will buffer. Zero or negative means
// DefaultMaxLineBytes.
func NewParser(maxLineBytes int) *Parser {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	return &Parser{maxLineBytes: maxLineBytes}
}

// Feed appends data to the parse buffer and consumes as many complete
// lines as it holds. It returns the outcomes in wire order.
//
// After an error outcome no further frame contributes to the write
// that failed: its remaining buffered frames are absorbed, and exactly
// one error is emitted for it. Parsing resumes at the next line that
// parses as a valid series identifier, so an independent write
// pipelined behind a malformed one still goes through.
func (p *Parser) Feed(data []byte) []Outcome {
	p.buf = append(p.buf, data...)

	var outcomes []Outcome

	for {
		line, ok := p.nextLine(&outcomes)
		if !ok {
			break
		}

		if outcome := p.consumeLine(line); outcome != nil {
			outcomes = append(outcomes, *outcome)

			if outcome.Err != nil {
				p.resetWrite()
				p.state = absorbError
			}
		}
	}

	return outcomes
}

// Flush ends the byte stream. A final line the terminator never
// arrived for is classified now: the bytes it was waiting on can no
// longer come, so "need more bytes" stops being an answer. A write
// left incomplete mid-stream is an error outcome. The parser resets
// either way.
func (p *Parser) Flush() []Outcome {
	var outcomes []Outcome

	if len(p.buf) > 0 && p.state != discardLine {
		if outcome := p.consumeLine(RemoveTrailingCR(p.buf)); outcome != nil {
			outcomes = append(outcomes, *outcome)
		}
	}

	if p.state == nameParsed || p.state == timestampParsed {
		outcomes = append(outcomes, Outcome{Err: ErrUnexpectedEOF})
	}

	p.reset()

	return outcomes
}

// nextLine scans the buffer for a complete line, stripping the
// terminator and an optional trailing CR. It reports false when more
// bytes are required. An unterminated line past the length limit is
// appended to outcomes as a FrameTooLong error and the parser enters
// discard mode.
func (p *Parser) nextLine(outcomes *[]Outcome) ([]byte, bool) {
	idx := bytes.IndexByte(p.buf, '\n')

	if idx < 0 {
		if p.state == discardLine {
			// Still inside the oversized line, keep dropping.
			p.buf = p.buf[:0]
			return nil, false
		}

		if len(p.buf) > p.maxLineBytes {
			*outcomes = append(*outcomes, Outcome{
				Err: fmt.Errorf("%w: '%s'", ErrFrameTooLong, escapeLine(p.buf)),
			})
			p.buf = p.buf[:0]
			p.ident = series.Identifier{}
			p.state = discardLine
		}

		return nil, false
	}

	line := RemoveTrailingCR(p.buf[:idx])
	p.buf = p.buf[idx+1:]

	if p.state == discardLine {
		// The terminator ends the oversized line; the error for it
		// was already emitted.
		p.state = awaitLine
		return nil, true
	}

	return line, true
}

// consumeLine advances the state machine by one frame. A nil return
// means the write is still in progress.
func (p *Parser) consumeLine(line []byte) *Outcome {
	if line == nil {
		// A discarded oversized line, nothing to consume.
		return nil
	}

	if len(line) > p.maxLineBytes {
		return &Outcome{
			Err: fmt.Errorf("%w: '%s'", ErrFrameTooLong, escapeLine(line)),
		}
	}

	frame, err := classify(line)

	if p.state == absorbError {
		p.resync(frame, err)
		return nil
	}

	if err != nil {
		return &Outcome{Err: err}
	}

	switch p.state {
	case awaitLine:
		return p.consumeName(frame)

	case nameParsed:
		return p.consumeTimestamp(frame)

	case timestampParsed:
		return p.consumeValue(frame)
	}

	panic(fmt.Sprintf("protocol: impossible parser state %d", p.state))
}

// resync decides whether a line seen after a failed write starts a new
// one. Only a line that parses as a valid series identifier does;
// anything else is taken as a leftover frame of the write whose error
// line was already emitted, and is absorbed without a second error.
func (p *Parser) resync(frame Frame, classifyErr error) {
	if classifyErr != nil || frame.Kind != StatusLine {
		return
	}

	ident, err := series.Parse(frame.Payload)
	if err != nil {
		return
	}

	p.ident = ident
	p.state = nameParsed
}

func (p *Parser) consumeName(frame Frame) *Outcome {
	if frame.Kind != StatusLine {
		return &Outcome{
			Err: fmt.Errorf("%w, got '%s'", ErrExpectedName, escapeLine(frame.Payload)),
		}
	}

	ident, err := series.Parse(frame.Payload)
	if err != nil {
		return &Outcome{Err: err}
	}

	p.ident = ident
	p.state = nameParsed

	return nil
}

func (p *Parser) consumeTimestamp(frame Frame) *Outcome {
	switch frame.Kind {
	case IntegerLine:
		ts, err := parseIntegerPayload(frame.Payload)
		if err != nil {
			return &Outcome{Err: err}
		}

		p.ts = ts

	case StatusLine:
		at, err := time.Parse(time.RFC3339Nano, string(frame.Payload))
		if err != nil {
			return &Outcome{
				Err: fmt.Errorf("%w: '%s'", ErrBadTimestamp, escapeLine(frame.Payload)),
			}
		}

		p.ts = uint64(at.UnixNano())

	default:
		return &Outcome{
			Err: fmt.Errorf("%w: '%s'", ErrBadTimestamp, escapeLine(frame.Payload)),
		}
	}

	p.state = timestampParsed

	return nil
}

func (p *Parser) consumeValue(frame Frame) *Outcome {
	var value float64

	switch frame.Kind {
	case IntegerLine:
		n, err := parseIntegerPayload(frame.Payload)
		if err != nil {
			return &Outcome{Err: err}
		}

		value = float64(n)

	case StatusLine:
		f, err := strconv.ParseFloat(string(frame.Payload), 64)
		if err != nil {
			return &Outcome{
				Err: fmt.Errorf("%w: '%s'", ErrBadValue, escapeLine(frame.Payload)),
			}
		}

		value = f

	default:
		return &Outcome{
			Err: fmt.Errorf("%w: '%s'", ErrBadValue, escapeLine(frame.Payload)),
		}
	}

	point := &Point{
		Series:    p.ident,
		Timestamp: p.ts,
		Value:     value,
	}

	p.resetWrite()

	return &Outcome{Point: point}
}

// reset drops any partially built write along with the parse buffer
// and returns to awaiting a series name. Used at stream end, when
// nothing buffered can matter any more.
func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.resetWrite()
}

// resetWrite clears the in-progress write but keeps buffered bytes, so
// pipelined writes behind a commit still parse.
func (p *Parser) resetWrite() {
	p.ident = series.Identifier{}
	p.ts = 0
	p.state = awaitLine
}

// classify maps a complete line onto a Frame. An empty line is an
// error outright: it can never become valid no matter what arrives
// after it.
func classify(line []byte) (Frame, error) {
	if len(line) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	sigil, payload := line[0], line[1:]

	switch sigil {
	case SigilStatus:
		return Frame{Kind: StatusLine, Payload: payload}, nil

	case SigilInteger:
		return Frame{Kind: IntegerLine, Payload: payload}, nil

	case SigilError:
		return Frame{Kind: ErrorLine, Payload: payload}, nil

	case SigilBulk, SigilArray:
		return Frame{}, fmt.Errorf("%w: '%s'", ErrReservedFrame, escapeLine(line))

	default:
		return Frame{}, fmt.Errorf("%w: '%s'", ErrBadSigil, escapeLine(line))
	}
}

// parseIntegerPayload parses the payload of a ':' frame as an
// unsigned decimal with a bounded digit count.
func parseIntegerPayload(payload []byte) (uint64, error) {
	if len(payload) == 0 || len(payload) > maxIntegerDigits {
		return 0, fmt.Errorf("%w: '%s'", ErrBadInteger, escapeLine(payload))
	}

	n, err := strconv.ParseUint(string(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s'", ErrBadInteger, escapeLine(payload))
	}

	return n, nil
}

// RemoveTrailingCR strips the optional '\r' before a line's '\n'
// terminator.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}

	return data
}
