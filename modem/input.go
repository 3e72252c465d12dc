package modem

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"time"
)

const inputSize = 512

// input holds bytes read from the transport that have not been consumed
// yet. The matcher takes them one at a time, so whatever follows a terminal
// pattern stays here for the next step of the exchange.
type input struct {
	r     io.Reader
	buf   []byte
	start int
	end   int
}

func newInput(r io.Reader) *input {
	return &input{r: r, buf: make([]byte, inputSize)}
}

func (in *input) buffered() int {
	return in.end - in.start
}

// fill performs a single transport read. Zero bytes without an error means
// nothing has arrived yet.
func (in *input) fill() error {
	if in.start == in.end {
		in.start, in.end = 0, 0
	}
	if in.end == len(in.buf) {
		if in.start == 0 {
			return ErrLineTooLong
		}
		in.end = copy(in.buf, in.buf[in.start:in.end])
		in.start = 0
	}
	n, err := in.r.Read(in.buf[in.end:])
	in.end += n
	if n > 0 {
		return nil
	}
	return err
}

// available reports whether a byte can be consumed after at most one
// transport read.
func (in *input) available() (bool, error) {
	if in.buffered() > 0 {
		return true, nil
	}
	if err := in.fill(); err != nil {
		return false, err
	}
	return in.buffered() > 0, nil
}

// wait blocks until n bytes are buffered, yielding between empty reads.
func (in *input) wait(ctx context.Context, n int, deadline time.Time) error {
	for in.buffered() < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		before := in.buffered()
		if err := in.fill(); err != nil {
			return err
		}
		if in.buffered() == before {
			runtime.Gosched()
		}
	}
	return nil
}

func (in *input) next() byte {
	c := in.buf[in.start]
	in.start++
	return c
}

func (in *input) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	if err := in.wait(ctx, 1, deadline); err != nil {
		return 0, err
	}
	return in.next(), nil
}

// peekUntil returns the buffered bytes before the first delim without
// consuming anything.
func (in *input) peekUntil(ctx context.Context, delim byte, deadline time.Time) ([]byte, error) {
	for {
		if i := bytes.IndexByte(in.buf[in.start:in.end], delim); i >= 0 {
			return in.buf[in.start : in.start+i], nil
		}
		if in.buffered() == len(in.buf) {
			return nil, ErrLineTooLong
		}
		if err := in.wait(ctx, in.buffered()+1, deadline); err != nil {
			return nil, err
		}
	}
}

func (in *input) discard(n int) {
	in.start += min(n, in.buffered())
}

// readUntil consumes through delim and returns the bytes before it.
func (in *input) readUntil(ctx context.Context, delim byte, deadline time.Time) (string, error) {
	p, err := in.peekUntil(ctx, delim, deadline)
	if err != nil {
		return "", err
	}
	s := string(p)
	in.discard(len(p) + 1)
	return s, nil
}

func (in *input) skipUntil(ctx context.Context, delim byte, deadline time.Time) error {
	for {
		c, err := in.readByte(ctx, deadline)
		if err != nil {
			return err
		}
		if c == delim {
			return nil
		}
	}
}
