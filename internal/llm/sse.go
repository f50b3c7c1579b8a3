package llm

import (
	"bufio"
	"bytes"
	"strings"
)

type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r *bufio.Reader) *sseDecoder { return &sseDecoder{r: r} }

// Next returns (event, data, error). For Azure, event is often empty; data lines begin with "data: ".
func (d *sseDecoder) Next() (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				if len(data) > 0 {
					return event, data, nil
				}
				return "", nil, err
			}
			if len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if bytes.HasPrefix(line, []byte("event:")) {
			event = strings.TrimSpace(string(line[len("event:"):]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		}
		// the last line of a stream may lack its newline
		if err != nil {
			if len(data) > 0 {
				return event, data, nil
			}
			return "", nil, err
		}
	}
}
