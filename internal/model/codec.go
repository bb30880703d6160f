package model

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// envelope frames an artifact: a format tag plus the gob-encoded payload.
// Keeping the payload opaque lets formats evolve independently of the frame.
type envelope struct {
	Format string
	Blob   []byte
}

// Decode reads a serialized model artifact and returns a usable instance.
// Artifacts may be gzip-compressed; compression is sniffed, not configured.
func Decode(r io.Reader) (Predictor, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip artifact: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	var env envelope
	if err := gob.NewDecoder(src).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode artifact envelope: %w", err)
	}

	dec := gob.NewDecoder(bytes.NewReader(env.Blob))
	switch env.Format {
	case FormatLinear:
		var m Linear
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Format, err)
		}
		return &m, nil
	case FormatCentroid:
		var m NearestCentroid
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Format, err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown artifact format %q", env.Format)
	}
}

// Encode writes p as a serialized artifact. Used by tooling and tests; the
// serving path only decodes.
func Encode(w io.Writer, p Predictor) error {
	var env envelope
	var buf bytes.Buffer
	switch m := p.(type) {
	case *Linear:
		env.Format = FormatLinear
		if err := gob.NewEncoder(&buf).Encode(m); err != nil {
			return fmt.Errorf("encode %s payload: %w", env.Format, err)
		}
	case *NearestCentroid:
		env.Format = FormatCentroid
		if err := gob.NewEncoder(&buf).Encode(m); err != nil {
			return fmt.Errorf("encode %s payload: %w", env.Format, err)
		}
	default:
		return fmt.Errorf("unsupported predictor type %T", p)
	}
	env.Blob = buf.Bytes()
	if err := gob.NewEncoder(w).Encode(&env); err != nil {
		return fmt.Errorf("encode artifact envelope: %w", err)
	}
	return nil
}
