// Package timing reads and writes the per-transfer timing log that
// accompanies a transcript. Each line records how long after the previous
// transfer a chunk of bytes moved and how many bytes it was.
package timing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Format selects the timing line layout.
type Format int

const (
	// Classic writes "<seconds> <bytes>" with no direction tag.
	Classic Format = iota
	// Advanced prefixes every line with I (input) or O (output).
	Advanced
)

func (f Format) String() string {
	switch f {
	case Advanced:
		return "advanced"
	default:
		return "classic"
	}
}

// ParseFormat maps a configured format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "classic":
		return Classic, nil
	case "advanced":
		return Advanced, nil
	}
	return Classic, fmt.Errorf("invalid logging format %q (want classic or advanced)", s)
}

// Direction tags a transfer as caller input or child output.
type Direction byte

const (
	Input  Direction = 'I'
	Output Direction = 'O'
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Record is one transfer: its direction, the time since the previous
// transfer, and its byte count.
type Record struct {
	Direction Direction
	Elapsed   time.Duration
	Bytes     int
}

// Line renders r in format f, newline included.
func Line(f Format, r Record) string {
	secs := strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 6, 64)
	if f == Advanced {
		return fmt.Sprintf("%c %s %d\n", r.Direction, secs, r.Bytes)
	}
	return fmt.Sprintf("%s %d\n", secs, r.Bytes)
}

// Writer serializes records to an underlying sink.
type Writer struct {
	w      io.Writer
	format Format
}

// NewWriter returns a Writer emitting lines in the given format.
func NewWriter(w io.Writer, f Format) *Writer {
	return &Writer{w: w, format: f}
}

// Write appends one timing line for r.
func (tw *Writer) Write(r Record) error {
	_, err := io.WriteString(tw.w, Line(tw.format, r))
	return err
}

// ParseLine parses one non-empty timing line. Lines with a leading I/O tag
// are advanced lines; untagged lines are classic and treated as output.
func ParseLine(line string) (Record, error) {
	fields := strings.Fields(line)
	dir := Output
	switch len(fields) {
	case 2:
	case 3:
		switch fields[0] {
		case "I":
			dir = Input
		case "O":
			dir = Output
		default:
			return Record{}, fmt.Errorf("unknown direction tag %q", fields[0])
		}
		fields = fields[1:]
	default:
		return Record{}, fmt.Errorf("malformed timing line %q", line)
	}

	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || secs < 0 {
		return Record{}, fmt.Errorf("invalid delay %q", fields[0])
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return Record{}, fmt.Errorf("invalid byte count %q", fields[1])
	}
	return Record{
		Direction: dir,
		Elapsed:   time.Duration(secs * float64(time.Second)),
		Bytes:     n,
	}, nil
}

// Parse reads every record from r, skipping blank lines. The error names the
// offending line number.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("timing line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
