// Package codec implements the negotiated wire formats: a schema-based
// binary form (msgpack), a compressed textual form (gzip-wrapped JSON) and a
// plain textual form (JSON). Values round-trip losslessly under every
// format.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Format identifies a wire encoding.
type Format string

const (
	FormatBinary         Format = "binary"
	FormatCompressedText Format = "compressed-text"
	FormatText           Format = "text"
)

// Priority orders formats from most to least preferred when selecting a
// recommended format from an endpoint's declared set.
var Priority = []Format{FormatBinary, FormatCompressedText, FormatText}

// Known reports whether f names a supported format.
func Known(f Format) bool {
	switch f {
	case FormatBinary, FormatCompressedText, FormatText:
		return true
	}
	return false
}

// ContentType returns the MIME type sent with payloads of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatBinary:
		return "application/msgpack"
	case FormatCompressedText:
		return "application/json+gzip"
	default:
		return "application/json"
	}
}

// Encode serializes v under the given format.
func Encode(v any, f Format) ([]byte, error) {
	switch f {
	case FormatBinary:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("msgpack encode: %w", err)
		}
		return data, nil
	case FormatCompressedText:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("json encode: %w", err)
		}
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(raw); err != nil {
			return nil, fmt.Errorf("gzip encode: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case FormatText:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("json encode: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown format: %q", f)
	}
}

// Decode deserializes data produced by Encode under the same format.
func Decode(data []byte, f Format, out any) error {
	switch f {
	case FormatBinary:
		if err := msgpack.Unmarshal(data, out); err != nil {
			return fmt.Errorf("msgpack decode: %w", err)
		}
		return nil
	case FormatCompressedText:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("gzip decode: %w", err)
		}
		raw, err := io.ReadAll(gz)
		if err != nil {
			return fmt.Errorf("gzip read: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("gzip close: %w", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("json decode: %w", err)
		}
		return nil
	case FormatText:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("json decode: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %q", f)
	}
}
