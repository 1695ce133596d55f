package protocol

import (
	"bytes"
	"compress/flate"
	"io"
)

// FlateCompressor is the demonstration Compressor implementation. No
// pack repository ships a third-party compressor (zstd/lz4/snappy) to
// reuse here, so this uses the standard library's compress/flate
// rather than inventing an unwired dependency.
type FlateCompressor struct {
	Level int
}

func NewFlateCompressor() *FlateCompressor {
	return &FlateCompressor{Level: flate.DefaultCompression}
}

func (c *FlateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, c.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *FlateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
