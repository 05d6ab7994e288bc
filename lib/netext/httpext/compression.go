package httpext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// CompressionType is a Content-Encoding a request body can be compressed
// with, or a response body decompressed from.
type CompressionType uint

// The supported compressions.
const (
	CompressionTypeGzip CompressionType = iota
	CompressionTypeDeflate
	CompressionTypeZstd
	CompressionTypeBr
)

var compressionTypeNames = [...]string{ //nolint:gochecknoglobals
	CompressionTypeGzip:    "gzip",
	CompressionTypeDeflate: "deflate",
	CompressionTypeZstd:    "zstd",
	CompressionTypeBr:      "br",
}

func (ct CompressionType) String() string {
	if int(ct) < len(compressionTypeNames) {
		return compressionTypeNames[ct]
	}
	return fmt.Sprintf("CompressionType(%d)", uint(ct))
}

// MarshalText implements encoding.TextMarshaler.
func (ct CompressionType) MarshalText() ([]byte, error) {
	return []byte(ct.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ct *CompressionType) UnmarshalText(data []byte) error {
	v, err := ParseCompressionType(string(data))
	if err != nil {
		return err
	}
	*ct = v
	return nil
}

// ErrUnknownCompression is returned for Content-Encodings that can't be handled.
var ErrUnknownCompression = errors.New("unknown compression")

// ParseCompressionType returns the CompressionType with the given name.
func ParseCompressionType(s string) (CompressionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range compressionTypeNames {
		if name == s {
			return CompressionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownCompression, s)
}

// ParseCompressionTypes parses a comma separated list of compressions, e.g.
// "gzip, br", applied in order.
func ParseCompressionTypes(s string) ([]CompressionType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]CompressionType, 0, len(parts))
	for _, part := range parts {
		ct, err := ParseCompressionType(part)
		if err != nil {
			return nil, err
		}
		result = append(result, ct)
	}
	return result, nil
}

// compressBody compresses body with every algorithm in turn and returns the
// result with the matching Content-Encoding header value.
func compressBody(algos []CompressionType, body []byte) (*bytes.Buffer, string, error) {
	encodings := make([]string, 0, len(algos))
	var prev io.Reader = bytes.NewReader(body)
	buf := bytes.NewBuffer(body)
	for _, algo := range algos {
		buf = new(bytes.Buffer)
		var w io.WriteCloser
		switch algo {
		case CompressionTypeGzip:
			w = gzip.NewWriter(buf)
		case CompressionTypeDeflate:
			w = zlib.NewWriter(buf)
		case CompressionTypeZstd:
			var err error
			if w, err = zstd.NewWriter(buf); err != nil {
				return nil, "", err
			}
		case CompressionTypeBr:
			w = brotli.NewWriter(buf)
		default:
			return nil, "", fmt.Errorf("%w %s", ErrUnknownCompression, algo)
		}
		// closed exactly once, zlib writes its checksum again on a second Close
		if _, err := io.Copy(w, prev); err != nil {
			_ = w.Close()
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		encodings = append(encodings, algo.String())
		prev = bytes.NewReader(buf.Bytes())
	}
	return buf, strings.Join(encodings, ", "), nil
}

// zstd.Decoder has a Close without a return value
type ncloser interface {
	Close()
}

type readCloser struct {
	io.Reader
}

func (r readCloser) Close() error {
	switch v := r.Reader.(type) {
	case io.Closer:
		return v.Close()
	case ncloser:
		v.Close()
	}
	return nil
}

// newDecompressingReader returns a reader decompressing body according to
// the Content-Encoding header value, or body itself when it has none or an
// unsupported one.
// Stacked encodings like "deflate, gzip" are undone in reverse order.
func newDecompressingReader(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	contentEncoding = strings.TrimSpace(contentEncoding)
	if contentEncoding == "" || strings.EqualFold(contentEncoding, "identity") {
		return readCloser{body}, nil
	}
	algos, err := ParseCompressionTypes(contentEncoding)
	if err != nil {
		// unknown encodings are passed through as they are
		return readCloser{body}, nil //nolint:nilerr
	}

	reader := body
	closers := make([]io.Closer, 0, len(algos))
	for i := len(algos) - 1; i >= 0; i-- {
		switch algos[i] {
		case CompressionTypeGzip:
			reader, err = gzip.NewReader(reader)
		case CompressionTypeDeflate:
			reader, err = zlib.NewReader(reader)
		case CompressionTypeZstd:
			reader, err = zstd.NewReader(reader)
		case CompressionTypeBr:
			reader = brotli.NewReader(reader)
		}
		if err != nil {
			return nil, newDecompressionError(err)
		}
		closers = append(closers, readCloser{reader})
	}
	return &multiCloser{Reader: reader, closers: closers}, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var decompressionErrors = [...]error{ //nolint:gochecknoglobals
	zlib.ErrChecksum, zlib.ErrDictionary, zlib.ErrHeader,
	gzip.ErrChecksum, gzip.ErrHeader,
	zstd.ErrReservedBlockType, zstd.ErrCompressedSizeTooBig, zstd.ErrBlockTooSmall, zstd.ErrMagicMismatch,
	zstd.ErrWindowSizeExceeded, zstd.ErrWindowSizeTooSmall, zstd.ErrDecoderSizeExceeded, zstd.ErrUnknownDictionary,
	zstd.ErrFrameSizeExceeded, zstd.ErrCRCMismatch, zstd.ErrDecoderClosed,
}

func newDecompressionError(err error) *Error {
	return NewError(
		responseDecompressionErrorCode,
		fmt.Sprintf("error decompressing response body (%s)", err.Error()),
		err,
	)
}

func wrapDecompressionError(err error) error {
	if err == nil {
		return nil
	}
	for _, decErr := range decompressionErrors {
		if errors.Is(err, decErr) {
			return newDecompressionError(err)
		}
	}
	// brotli errors are not exported
	if strings.HasPrefix(err.Error(), "brotli: ") {
		return newDecompressionError(err)
	}
	return err
}
