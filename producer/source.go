package producer

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/telemetry"
)

// maxLineBytes bounds a single JSON line
const maxLineBytes = 64 * 1024

// LinesSource reads one wire-format reading per line. Blank lines are
// skipped; a line that fails to decode is returned as an invalid error and
// reading continues with the next line.
type LinesSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewLinesSource reads JSON lines from r
func NewLinesSource(r io.Reader) *LinesSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &LinesSource{scanner: scanner}
}

// Next returns the next reading or io.EOF
func (s *LinesSource) Next() (telemetry.Reading, error) {
	for s.scanner.Scan() {
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		r, err := telemetry.Decode(line)
		if err != nil {
			return telemetry.Reading{}, errors.WrapInvalid(err, "LinesSource", "Next", "decode line "+strconv.Itoa(s.line))
		}
		return r, nil
	}
	if err := s.scanner.Err(); err != nil {
		return telemetry.Reading{}, err
	}
	return telemetry.Reading{}, io.EOF
}

// SliceSource replays a fixed list of readings
type SliceSource struct {
	readings []telemetry.Reading
	next     int
}

// NewSliceSource returns a source over readings
func NewSliceSource(readings ...telemetry.Reading) *SliceSource {
	return &SliceSource{readings: readings}
}

// Next returns the next reading or io.EOF
func (s *SliceSource) Next() (telemetry.Reading, error) {
	if s.next >= len(s.readings) {
		return telemetry.Reading{}, io.EOF
	}
	r := s.readings[s.next]
	s.next++
	return r, nil
}
