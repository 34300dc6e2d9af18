package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// DefaultEscapeChar is Ctrl-], the telnet convention.
const DefaultEscapeChar byte = 0x1D

// escapeState is the position in the line-start escape detection machine.
// Escape sequences are only recognized at the start of a line, matching SSH
// client behavior.
type escapeState int

const (
	stateNormal    escapeState = iota
	stateLineStart             // after CR/LF or at session start
	stateEscaped               // escape char seen at line start
)

// escapeFilter turns user keystrokes into remote writes, intercepting the
// escape sequences. One instance owns one attach session's input.
type escapeFilter struct {
	escape byte
	state  escapeState
	help   io.Writer
}

func newEscapeFilter(escape byte, help io.Writer) *escapeFilter {
	// Start of session counts as start of line.
	return &escapeFilter{escape: escape, state: stateLineStart, help: help}
}

// feed processes one input byte. It returns the bytes to forward to the
// remote (possibly none) and whether the disconnect sequence was seen.
func (f *escapeFilter) feed(b byte) (out []byte, disconnect bool) {
	if f.state == stateEscaped {
		return f.feedEscaped(b)
	}
	if f.state == stateLineStart && b == f.escape {
		f.state = stateEscaped
		return nil, false
	}
	f.advance(b)
	return []byte{b}, false
}

func (f *escapeFilter) feedEscaped(b byte) ([]byte, bool) {
	switch b {
	case '.':
		return nil, true
	case '?':
		esc := FormatEscapeChar(f.escape)
		fmt.Fprintf(f.help, "\r\nSupported escape sequences:\r\n"+
			"  %s.  Disconnect\r\n"+
			"  %s?  This help\r\n"+
			"  %s%s  Send escape character\r\n", esc, esc, esc, esc)
		f.state = stateLineStart
		return nil, false
	case f.escape:
		// Doubled escape char sends it through once.
		f.state = stateNormal
		return []byte{f.escape}, false
	default:
		f.advance(b)
		return []byte{f.escape, b}, false
	}
}

// advance moves to line-start after CR/LF and mid-line otherwise.
func (f *escapeFilter) advance(b byte) {
	if b == '\r' || b == '\n' {
		f.state = stateLineStart
	} else {
		f.state = stateNormal
	}
}

// Relay runs bidirectional I/O between the user terminal and the remote.
// rw is typically the guest console TCP connection; any io.ReadWriter works.
// Returns nil on clean disconnect (escape sequence, EOF, or peer close).
//
// Whichever direction finishes first wins; the other goroutine stays blocked
// in its read until the caller closes the connection or the process exits.
// Reads from os.Stdin cannot be interrupted, so joining it would hang.
func Relay(ctx context.Context, rw io.ReadWriter, escapeChar byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2) //nolint:mnd

	// remote → stdout (guest output to user).
	go func() {
		_, err := io.Copy(os.Stdout, rw)
		errCh <- err
	}()

	// stdin → remote (user input to guest), with escape detection.
	go func() {
		errCh <- relayStdinToRemote(ctx, os.Stdin, rw, escapeChar)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !isCleanExit(err) {
			return err
		}
		return nil
	}
}

// relayStdinToRemote pumps stdin through the escape filter into the remote.
// Returns nil on disconnect (escape-char + '.').
func relayStdinToRemote(ctx context.Context, stdin io.Reader, remote io.Writer, escapeChar byte) error {
	filter := newEscapeFilter(escapeChar, os.Stdout)
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := stdin.Read(buf)
		if n == 0 || err != nil {
			return err
		}

		out, disconnect := filter.feed(buf[0])
		if disconnect {
			return nil
		}
		if len(out) > 0 {
			if _, werr := remote.Write(out); werr != nil {
				return werr
			}
		}
	}
}

// FormatEscapeChar renders b for display, in caret notation when it is a
// control character.
func FormatEscapeChar(b byte) string {
	if b > 0 && b < 0x20 { //nolint:mnd
		return fmt.Sprintf("^%c", b+'@')
	}
	return string(b)
}

// ParseEscapeChar parses an escape character flag value: a raw single
// character, or ^X caret notation for a control character.
func ParseEscapeChar(s string) (byte, error) {
	var b byte
	switch {
	case len(s) == 1:
		b = s[0]
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c >= 'a' && c <= 'z' {
			c -= 0x20 // fold to the upper-case control range
		}
		if c < '@' || c > '_' {
			return 0, fmt.Errorf("bad caret notation %q: want ^@ through ^_", s)
		}
		b = c - '@'
	default:
		return 0, fmt.Errorf("escape character %q: want one character or ^X caret notation", s)
	}
	if err := checkEscapeByte(b, s); err != nil {
		return 0, err
	}
	return b, nil
}

// checkEscapeByte rejects bytes the filter cannot treat as an escape char.
func checkEscapeByte(b byte, original string) error {
	switch {
	case b == 0:
		return errors.New("NUL cannot be the escape character")
	case b == '\r', b == '\n':
		return errors.New("CR and LF cannot be the escape character; they delimit lines for escape detection")
	case b == '.', b == '?':
		return fmt.Errorf("%q collides with the escape commands", original)
	case b == 0x7F: //nolint:mnd
		return errors.New("DEL cannot be the escape character")
	case b >= 0x80: //nolint:mnd
		return fmt.Errorf("escape character must be ASCII, got 0x%02X", b)
	}
	return nil
}

// isCleanExit reports whether err is a normal way for an attach session to
// end rather than a relay failure.
func isCleanExit(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}
