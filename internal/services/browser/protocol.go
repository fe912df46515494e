// -----------------------------------------------------------------------
// Worker protocol - newline-delimited JSON commands and results
// -----------------------------------------------------------------------

package browser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/genieops/internal/models"
)

// maxMessageBytes bounds one protocol line. Page content results carry
// full HTML.
const maxMessageBytes = 32 * 1024 * 1024

var protocolValidator = validator.New()

// Encoder writes one JSON document per line. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates an Encoder over w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes v followed by a newline and flushes
func (e *Encoder) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited messages
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder over r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageBytes)
	return &Decoder{scanner: scanner}
}

// next returns the next non-empty line, io.EOF when the stream ends
func (d *Decoder) next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// DecodeCommand reads and validates the next command. A malformed line
// returns a *DecodeError so the caller can answer it and keep reading.
func (d *Decoder) DecodeCommand() (*models.Command, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}

	var cmd models.Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := protocolValidator.Struct(&cmd); err != nil {
		return nil, &DecodeError{ID: cmd.ID, Err: err}
	}
	return &cmd, nil
}

// DecodeResult reads and validates the next result
func (d *Decoder) DecodeResult() (*models.Result, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}

	var res models.Result
	if err := json.Unmarshal(line, &res); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := protocolValidator.Struct(&res); err != nil {
		return nil, &DecodeError{ID: res.ID, Err: err}
	}
	return &res, nil
}

// DecodeError is a malformed protocol line. ID is set when it could be read.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed message %s: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeParams unmarshals command params into v and validates them
func DecodeParams(cmd *models.Command, v interface{}) error {
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, v); err != nil {
			return fmt.Errorf("invalid %s params: %w", cmd.Kind, err)
		}
	}
	if err := protocolValidator.Struct(v); err != nil {
		return fmt.Errorf("invalid %s params: %w", cmd.Kind, err)
	}
	return nil
}
