package stream

import (
	"fmt"
	"io"
	"net/http"
)

// Encoder frames events as Server-Sent Events ("data: <json>\n\n") on a
// sink. Once a write fails the encoder goes sticky-failed: later writes
// return the same error immediately instead of blocking on a dead sink.
type Encoder struct {
	w   io.Writer
	f   http.Flusher
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	enc := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		enc.f = f
	}
	return enc
}

func (e *Encoder) Write(ev Event) error {
	if e.err != nil {
		return e.err
	}
	data, err := Marshal(ev)
	if err != nil {
		e.err = fmt.Errorf("encode event: %w", err)
		return e.err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.err = err
		return e.err
	}
	if e.f != nil {
		e.f.Flush()
	}
	return nil
}

func (e *Encoder) Err() error {
	if e == nil {
		return nil
	}
	return e.err
}
