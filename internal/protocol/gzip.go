package protocol

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// maxUnpackedSize bounds gzip_packed expansion.
const maxUnpackedSize = 16 << 20

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxUnpackedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxUnpackedSize {
		return nil, ErrInvalidLength
	}
	return out, nil
}
