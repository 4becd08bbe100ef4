package singer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Decoder reads newline-delimited messages, as emitted by subprocess
// plugins on stdout.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a Decoder reading from r. Lines up to 20MiB are
// accepted; some APIs return very wide rows.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 20*1024*1024)
	return &Decoder{scanner: sc}
}

// Decode returns the next message, io.EOF at end of input. Blank lines
// are skipped.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		d.line++
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return Message{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return m, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Encoder writes newline-delimited messages.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}
