package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Decoder reads Server-Sent Events and yields each event's joined "data:"
// payload. Chunk boundaries in the underlying reader need not align with
// event boundaries; the decoder buffers until it sees a blank line.
type Decoder struct {
	r    *bufio.Reader
	data bytes.Buffer
	err  error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next advances to the next event. It returns false on EOF or error. After a
// successful Next, Data returns the event payload.
func (d *Decoder) Next() bool {
	if d.err != nil {
		return false
	}
	d.data.Reset()

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && d.data.Len() > 0 {
				// Final event without a trailing blank line.
				d.err = io.EOF
				return true
			}
			d.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if d.data.Len() == 0 {
				continue
			}
			return true
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok || field != "data" {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if d.data.Len() > 0 {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
	}
}

func (d *Decoder) Data() []byte {
	if d == nil {
		return nil
	}
	return d.data.Bytes()
}

func (d *Decoder) Err() error {
	if d == nil || d.err == io.EOF {
		return nil
	}
	return d.err
}
