package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// MaxCommandLineLength is the RFC 5321 §4.5.3.1.4 command-line ceiling.
const MaxCommandLineLength = 1000

// errLineTooLong is returned by readLine when a line exceeds
// MaxCommandLineLength. It is not a connection-fatal error: the caller
// writes 500 and keeps the session open, per spec's "line too long" boundary
// behaviour, rather than dropping the connection outright.
var errLineTooLong = errors.New("server: command line exceeds maximum length")

// connReader wraps a buffered reader over the session's network connection,
// enforcing a per-read deadline and the command-line length ceiling. It is
// the one place line framing and dot-unstuffing live, mirroring the
// teacher's bufio/textproto-based reading in its session loop and the
// zero-dependency textproto line-reader pattern shown elsewhere in the
// retrieved corpus.
type connReader struct {
	conn    net.Conn
	br      *bufio.Reader
	timeout time.Duration
}

func newConnReader(conn net.Conn, bufSize int, timeout time.Duration) *connReader {
	return &connReader{conn: conn, br: bufio.NewReaderSize(conn, bufSize), timeout: timeout}
}

// readLine reads one CRLF-terminated line (CRLF stripped) respecting ctx
// cancellation and the configured per-read timeout. A line longer than
// MaxCommandLineLength is drained to its terminating '\n' (so the connection
// stays in sync with the client) and reported as errLineTooLong rather than
// being accumulated without bound.
func (r *connReader) readLine(ctx context.Context) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetReadDeadline(deadline)
	} else if r.timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}

	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			buf = append(buf, chunk...)
			if len(buf) > MaxCommandLineLength {
				if drainErr := r.drainToNewline(); drainErr != nil {
					return "", drainErr
				}
				return "", errLineTooLong
			}
			continue
		}
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)
		break
	}
	if len(buf) > MaxCommandLineLength {
		return "", errLineTooLong
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// drainToNewline discards input up to and including the next '\n', used to
// resynchronise the stream after an overlong line so the next readLine call
// starts at a real line boundary instead of mid-line.
func (r *connReader) drainToNewline() error {
	for {
		_, err := r.br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if err != bufio.ErrBufferFull {
			return err
		}
	}
}

// peekLine reads one line the same way readLine does but is used for the
// PROXY-header sniff at connection start, where the caller needs to decide
// whether the line was a PROXY header or the session's first real command.
func (r *connReader) peekLine(ctx context.Context) (string, error) {
	return r.readLine(ctx)
}

// readDataBody reads a dot-stuffed DATA body up to and including its
// terminating "." line, unstuffing leading dots and enforcing maxSize. The
// returned bytes do not include the terminator.
func (r *connReader) readDataBody(ctx context.Context, maxSize int64) ([]byte, error, bool) {
	var buf []byte
	var total int64
	oversized := false

	for {
		line, err := r.readLine(ctx)
		if err != nil {
			return nil, err, oversized
		}
		if line == "." {
			return buf, nil, oversized
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}

		total += int64(len(line)) + 2
		if total > maxSize {
			oversized = true
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\r', '\n')
	}
}

// connWriter serialises writes to the connection and applies the endpoint's
// write deadline.
type connWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *connWriter) writeString(s string) error {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	_, err := w.conn.Write([]byte(s))
	return err
}
