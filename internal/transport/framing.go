package transport

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const maxFrameLen = 64 * 1024

// errFrameTooLong reports a dropped oversized frame. The reader has already
// resynchronised, so callers log it and keep reading.
var errFrameTooLong = errors.New("frame exceeds 64 KiB, dropped")

type frameReader func(r *bufio.Reader) (string, error)

// readLine returns the next non-blank line without its terminator. A bare
// '\r' also ends a line: MicroPython firmware prints samples with end="\r".
func readLine(r *bufio.Reader) (string, error) {
	var (
		buf        []byte
		discarding bool
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == '\n' || b == '\r':
			if discarding {
				return "", errFrameTooLong
			}
			line := string(buf)
			buf = buf[:0]
			if strings.TrimSpace(line) == "" {
				continue
			}
			return line, nil
		case discarding:
		case len(buf) >= maxFrameLen:
			discarding = true
			buf = nil
		default:
			buf = append(buf, b)
		}
	}
}

// readObject returns the next top-level JSON object from a stream of
// concatenated objects. Bytes outside an object are skipped. An oversized
// object is consumed up to its closing brace before errFrameTooLong is
// returned, so its nested objects never surface as frames.
func readObject(r *bufio.Reader) (string, error) {
	var (
		buf        []byte
		depth      int
		inString   bool
		escaped    bool
		discarding bool
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if depth == 0 {
			if b == '{' {
				depth = 1
				buf = append(buf[:0], b)
			}
			continue
		}
		if !discarding && len(buf) >= maxFrameLen {
			discarding = true
			buf = nil
		}
		if !discarding {
			buf = append(buf, b)
		}

		switch {
		case escaped:
			escaped = false
		case inString:
			if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{':
			depth++
		case b == '}':
			depth--
			if depth == 0 {
				if discarding {
					return "", errFrameTooLong
				}
				return string(buf), nil
			}
		}
	}
}

// pumpFrames reads frames until a fatal error and hands each to h.
func pumpFrames(r io.Reader, read frameReader, h Handler, onDrop func()) error {
	br := bufio.NewReaderSize(r, 4096)
	for {
		frame, err := read(br)
		if errors.Is(err, errFrameTooLong) {
			if onDrop != nil {
				onDrop()
			}
			continue
		}
		if err != nil {
			return err
		}
		h.OnMessage(frame)
	}
}
