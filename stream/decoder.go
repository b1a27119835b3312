package stream

import (
	"io"

	"github.com/promptlane/agentloop/internal/sse"
)

// Decoder reads an SSE-framed event stream. Each event is self-contained,
// so reads tolerate arbitrary chunk boundaries in the transport.
type Decoder struct {
	dec *sse.Decoder
	cur Event
	err error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: sse.NewDecoder(r)}
}

func (d *Decoder) Next() bool {
	if d.err != nil {
		return false
	}
	for d.dec.Next() {
		data := d.dec.Data()
		if len(data) == 0 {
			continue
		}
		ev, err := Unmarshal(data)
		if err != nil {
			d.err = err
			return false
		}
		d.cur = ev
		return true
	}
	d.err = d.dec.Err()
	return false
}

func (d *Decoder) Event() Event { return d.cur }

func (d *Decoder) Err() error { return d.err }
