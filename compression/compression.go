// Package compression shrinks large payloads before they are stored.
//
// Only payloads above a size threshold are compressed; small ones are cheaper
// to keep as they are. Everything goes through streaming gzip so large assets
// never need a second full copy in memory while being encoded.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/krisalay/tiercache/types"
)

// DefaultThreshold is the payload size above which compression kicks in.
const DefaultThreshold = 1024

// Compressor compresses payloads larger than Threshold at Level.
type Compressor struct {
	Threshold int
	Level     int
}

// New returns a Compressor. Non-positive threshold selects DefaultThreshold;
// level 0 selects gzip.DefaultCompression.
func New(threshold, level int) *Compressor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &Compressor{Threshold: threshold, Level: level}
}

// ShouldCompress reports whether data is large enough to be worth compressing.
func (c *Compressor) ShouldCompress(data []byte) bool {
	return len(data) > c.Threshold
}

// Compress gzips data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressStream gzips everything read from src into dst.
func (c *Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	zw, err := gzip.NewWriterLevel(dst, c.Level)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush gzip writer: %w", err)
	}
	return nil
}

// Decompress inflates gzip data. Failures wrap types.ErrCorruptEntry.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.DecompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressStream inflates gzip read from src into dst.
func (c *Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("%w: open gzip stream: %v", types.ErrCorruptEntry, err)
	}
	defer zr.Close()
	if _, err := io.Copy(dst, zr); err != nil {
		return fmt.Errorf("%w: decompress: %v", types.ErrCorruptEntry, err)
	}
	return nil
}

// Ratio returns original/compressed, or 1 when nothing was saved.
func Ratio(original, compressed int) float64 {
	if compressed <= 0 || original <= 0 {
		return 1
	}
	return float64(original) / float64(compressed)
}
