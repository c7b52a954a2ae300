// Package jsonl scans newline-delimited JSON streams while tracking how
// many bytes each line consumed, so journal readers can translate lines
// back into file offsets for cursor resume.
package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Line is one scanned line. Text holds the content without its line
// terminator. Size counts every byte consumed from the stream, newline
// included, so callers can advance a file offset. Truncated marks a line
// that exceeded the scanner's limit; its Text is nil but Size still
// reflects the bytes skipped.
type Line struct {
	Text      []byte
	Size      int
	Truncated bool
}

// Scanner reads a stream line by line. A limit of 0 accepts lines of any
// length.
type Scanner struct {
	br    *bufio.Reader
	limit int
}

// NewScanner wraps r in a line scanner that marks a line Truncated once
// its bytes, line terminator included, exceed limit.
func NewScanner(r io.Reader, limit int) *Scanner {
	return &Scanner{
		br:    bufio.NewReader(r),
		limit: limit,
	}
}

// Next returns the next line, or io.EOF once the stream is exhausted. A
// final line without a terminator is still returned. Oversized lines
// come back with Truncated set rather than as an error, so callers can
// skip them and keep their offset accounting intact.
func (s *Scanner) Next() (Line, error) {
	var (
		text      []byte
		size      int
		truncated bool
	)

	grow := func(part []byte) {
		if truncated {
			return
		}
		if s.limit > 0 && len(text)+len(part) > s.limit {
			text = nil
			truncated = true
			return
		}
		text = append(text, part...)
	}

	for {
		part, err := s.br.ReadSlice('\n')
		size += len(part)
		grow(part)

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			// Line longer than the internal buffer, keep reading.
			continue
		case errors.Is(err, io.EOF):
			if size == 0 {
				return Line{}, io.EOF
			}
			return Line{Text: trimEOL(text), Size: size, Truncated: truncated}, nil
		case err != nil:
			return Line{}, err
		default:
			return Line{Text: trimEOL(text), Size: size, Truncated: truncated}, nil
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}
