package series

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxIdentifierLen is the longest series identifier we accept.
	MaxIdentifierLen = 1024

	// MaxTags bounds the number of tag pairs on one identifier.
	MaxTags = 32
)

var (
	ErrEmptyName    = errors.New("series name is empty")
	ErrNoTags       = errors.New("no tags specified")
	ErrMalformedTag = errors.New("malformed tag, expected key=value")
	ErrTooLong      = errors.New("series identifier is too long")
	ErrTooManyTags  = errors.New("too many tags")
)

// Tag is a single key=value pair on a series identifier.
type Tag struct {
	Key   string
	Value string
}

// Identifier names one time series: a metric name plus at least one
// key=value tag pair.
type Identifier struct {
	Name string
	Tags []Tag
}

// Parse validates a series identifier payload against the grammar
//
//   <name> (SP <key>=<value>)+
//
// where a token is one or more non-whitespace, non-'=' characters.
// It is a pure function of the payload so it can be tested in
// isolation from socket timing.
func Parse(payload []byte) (Identifier, error) {
	if len(payload) > MaxIdentifierLen {
		return Identifier{}, fmt.Errorf("%d bytes: %w", len(payload), ErrTooLong)
	}

	fields := bytes.Fields(payload)
	if len(fields) == 0 {
		return Identifier{}, ErrEmptyName
	}

	name := string(fields[0])
	if strings.Contains(name, "=") {
		// The first token is already a tag, so there is no name.
		return Identifier{}, ErrEmptyName
	}

	if len(fields) == 1 {
		return Identifier{}, fmt.Errorf("series '%s': %w", name, ErrNoTags)
	}

	if len(fields)-1 > MaxTags {
		return Identifier{}, fmt.Errorf("series '%s' has %d tags: %w", name, len(fields)-1, ErrTooManyTags)
	}

	tags := make([]Tag, 0, len(fields)-1)

	for _, field := range fields[1:] {
		tag, err := parseTag(field)
		if err != nil {
			return Identifier{}, fmt.Errorf("series '%s': %w", name, err)
		}

		tags = append(tags, tag)
	}

	return Identifier{Name: name, Tags: tags}, nil
}

func parseTag(field []byte) (Tag, error) {
	eq := bytes.IndexByte(field, '=')
	if eq <= 0 || eq == len(field)-1 {
		// Missing '=', empty key, or empty value
		return Tag{}, fmt.Errorf("'%s': %w", string(field), ErrMalformedTag)
	}

	value := field[eq+1:]
	if bytes.IndexByte(value, '=') >= 0 {
		return Tag{}, fmt.Errorf("'%s': %w", string(field), ErrMalformedTag)
	}

	return Tag{Key: string(field[:eq]), Value: string(value)}, nil
}

// Canonical returns the normal form of the identifier: the metric name
// followed by its tags sorted by key, single-space separated. Two
// spellings of the same series always canonicalise to the same string,
// which is what the storage registry keys series ids on.
func (id Identifier) Canonical() string {
	sorted := make([]Tag, len(id.Tags))
	copy(sorted, id.Tags)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	var b strings.Builder
	b.WriteString(id.Name)

	for _, tag := range sorted {
		b.WriteByte(' ')
		b.WriteString(tag.Key)
		b.WriteByte('=')
		b.WriteString(tag.Value)
	}

	return b.String()
}

// IsValidationErr reports whether err is one of the series validation
// failures, as opposed to a framing problem.
func IsValidationErr(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrNoTags) ||
		errors.Is(err, ErrMalformedTag) ||
		errors.Is(err, ErrTooLong) ||
		errors.Is(err, ErrTooManyTags)
}
