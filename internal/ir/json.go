package ir

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Decode reads a program from its JSON interchange form. Unknown fields are
// rejected so a front end emitting a newer schema fails loudly.
func Decode(r io.Reader) (*Program, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	prog := &Program{}
	if err := dec.Decode(prog); err != nil {
		return nil, fmt.Errorf("failed to decode program: %w", err)
	}

	return prog, nil
}

// Load reads and decodes the program stored at path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program: %w", err)
	}
	defer f.Close()

	prog, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if prog.Source == "" {
		prog.Source = path
	}

	return prog, nil
}

// Encode writes the program as indented JSON.
func (p *Program) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode program: %w", err)
	}
	return nil
}
