package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wirePayload struct {
	Resource string    `json:"resource" msgpack:"resource"`
	Size     SafeInt64 `json:"size" msgpack:"size"`
	Count    int       `json:"count" msgpack:"count"`
	Checksum string    `json:"checksum,omitempty" msgpack:"checksum,omitempty"`
}

func TestEncodeDecode(t *testing.T) {
	payload := wirePayload{
		Resource: "archive/data.bin",
		Size:     SafeInt64(5_368_709_120),
		Count:    2560,
		Checksum: "8f434346648f6b96df89dda901c5176b10a6d83961dd3c1ac88b59b2dc327aa4",
	}

	for _, format := range Priority {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(payload, format)
			require.NoError(t, err)

			var got wirePayload
			require.NoError(t, Decode(data, format, &got))
			assert.Equal(t, payload, got)
		})
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := Encode(wirePayload{}, Format("protobuf"))
	assert.ErrorContains(t, err, "unknown format")

	err = Decode([]byte("{}"), Format("protobuf"), &wirePayload{})
	assert.ErrorContains(t, err, "unknown format")
}

func TestCompressedTextIsGzippedJSON(t *testing.T) {
	payload := wirePayload{Resource: "x", Size: 42}
	data, err := Encode(payload, FormatCompressedText)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var got wirePayload
	require.NoError(t, json.NewDecoder(gz).Decode(&got))
	assert.Equal(t, payload, got)
}

func TestDecodeCorruptInput(t *testing.T) {
	assert.Error(t, Decode([]byte("not json"), FormatText, &wirePayload{}))
	assert.Error(t, Decode([]byte("not gzip"), FormatCompressedText, &wirePayload{}))
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(FormatBinary))
	assert.True(t, Known(FormatCompressedText))
	assert.True(t, Known(FormatText))
	assert.False(t, Known(Format("protobuf")))
	assert.False(t, Known(Format("")))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/msgpack", FormatBinary.ContentType())
	assert.Equal(t, "application/json+gzip", FormatCompressedText.ContentType())
	assert.Equal(t, "application/json", FormatText.ContentType())
}

func TestSafeInt64JSON(t *testing.T) {
	t.Run("values inside the double-safe range stay numbers", func(t *testing.T) {
		data, err := json.Marshal(SafeInt64(maxSafeInteger))
		require.NoError(t, err)
		assert.Equal(t, "9007199254740991", string(data))

		var got SafeInt64
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, SafeInt64(maxSafeInteger), got)
	})

	t.Run("values beyond the range travel as strings", func(t *testing.T) {
		data, err := json.Marshal(SafeInt64(maxSafeInteger + 1))
		require.NoError(t, err)
		assert.Equal(t, `"9007199254740992"`, string(data))

		var got SafeInt64
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, SafeInt64(maxSafeInteger+1), got)
	})

	t.Run("large negatives travel as strings too", func(t *testing.T) {
		data, err := json.Marshal(SafeInt64(-maxSafeInteger - 1))
		require.NoError(t, err)
		assert.Equal(t, `"-9007199254740992"`, string(data))

		var got SafeInt64
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, SafeInt64(-maxSafeInteger-1), got)
	})

	t.Run("accepts both encodings on input", func(t *testing.T) {
		var got SafeInt64
		require.NoError(t, json.Unmarshal([]byte(`123`), &got))
		assert.Equal(t, SafeInt64(123), got)

		require.NoError(t, json.Unmarshal([]byte(`"456"`), &got))
		assert.Equal(t, SafeInt64(456), got)
	})

	t.Run("rejects non-numeric strings", func(t *testing.T) {
		var got SafeInt64
		assert.Error(t, json.Unmarshal([]byte(`"abc"`), &got))
	})
}
