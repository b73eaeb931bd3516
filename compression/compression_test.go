package compression_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/compression"
	"github.com/krisalay/tiercache/types"
)

func TestThreshold(t *testing.T) {
	c := compression.New(0, 0)
	assert.Equal(t, compression.DefaultThreshold, c.Threshold)
	assert.False(t, c.ShouldCompress(make([]byte, 1024)))
	assert.True(t, c.ShouldCompress(make([]byte, 1025)))
}

func TestCompressRoundTrip(t *testing.T) {
	c := compression.New(16, 0)
	data := []byte(strings.Repeat(`{"verse":"The Lord is my shepherd"},`, 200))

	packed, err := c.Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(data))
	assert.Greater(t, compression.Ratio(len(data), len(packed)), 1.0)

	unpacked, err := c.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, data, unpacked)
}

func TestStreamRoundTrip(t *testing.T) {
	c := compression.New(0, 9)
	var packed, out bytes.Buffer

	require.NoError(t, c.CompressStream(&packed, strings.NewReader("lamp")))
	require.NoError(t, c.DecompressStream(&out, &packed))
	assert.Equal(t, "lamp", out.String())
}

func TestDecompressGarbageIsCorrupt(t *testing.T) {
	_, err := compression.New(0, 0).Decompress([]byte("definitely not gzip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCorruptEntry))
}
