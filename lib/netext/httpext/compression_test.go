package httpext

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompressionTypes(t *testing.T) {
	t.Parallel()

	algos, err := ParseCompressionTypes("gzip, Deflate,br ,zstd")
	require.NoError(t, err)
	assert.Equal(t, []CompressionType{
		CompressionTypeGzip, CompressionTypeDeflate, CompressionTypeBr, CompressionTypeZstd,
	}, algos)

	algos, err = ParseCompressionTypes("  ")
	require.NoError(t, err)
	assert.Empty(t, algos)

	_, err = ParseCompressionTypes("gzip,lz4")
	assert.ErrorIs(t, err, ErrUnknownCompression)

	var ct CompressionType
	require.NoError(t, ct.UnmarshalText([]byte("br")))
	assert.Equal(t, CompressionTypeBr, ct)
	text, err := ct.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "br", string(text))
}

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()
	body := strings.Repeat("odoo ", 100)

	cases := [][]CompressionType{
		{CompressionTypeGzip},
		{CompressionTypeDeflate},
		{CompressionTypeZstd},
		{CompressionTypeBr},
		{CompressionTypeDeflate, CompressionTypeGzip},
		{CompressionTypeZstd, CompressionTypeBr, CompressionTypeGzip},
	}
	for _, algos := range cases {
		compressed, encoding, err := compressBody(algos, []byte(body))
		require.NoError(t, err)
		assert.NotEqual(t, body, compressed.String())

		reader, err := newDecompressingReader(compressed, encoding)
		require.NoError(t, err, encoding)
		result, err := io.ReadAll(reader)
		require.NoError(t, err, encoding)
		require.NoError(t, reader.Close())
		assert.Equal(t, body, string(result), encoding)
	}
}

func TestDecompressingReaderPassThrough(t *testing.T) {
	t.Parallel()

	for _, encoding := range []string{"", "identity", "compress"} {
		reader, err := newDecompressingReader(strings.NewReader("plain"), encoding)
		require.NoError(t, err)
		result, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "plain", string(result), encoding)
	}
}

func TestDecompressingReaderErrors(t *testing.T) {
	t.Parallel()

	_, err := newDecompressingReader(strings.NewReader("not gzip"), "gzip")
	var reqErr *Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, responseDecompressionErrorCode, reqErr.Code)

	require.ErrorAs(t, wrapDecompressionError(fmt.Errorf("reading: %w", zstd.ErrMagicMismatch)), &reqErr)
	assert.Equal(t, responseDecompressionErrorCode, reqErr.Code)

	assert.NoError(t, wrapDecompressionError(nil))
	assert.Equal(t, io.ErrUnexpectedEOF, wrapDecompressionError(io.ErrUnexpectedEOF))
}
