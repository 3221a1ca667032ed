// Package oxitest provides fixtures shared by the engine's package tests:
// random backing buffers standing in for real block devices, and a
// ReadWriteSeeker wrapper around them so image/journal code under test
// never has to touch a real disk.
package oxitest

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// RandomBuffer returns size bytes of random data, failing the test
// immediately if the source of randomness errors.
func RandomBuffer(t testing.TB, size int) []byte {
	buf := make([]byte, size)
	_, err := rand.Read(buf)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return buf
}

// Device wraps a byte slice as an [io.ReadWriteSeeker] that also offers
// [io.ReaderAt] and [io.WriterAt], standing in for a block device or disk
// image in tests (spec §8 round-trip properties).
func Device(backing []byte) interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.WriterAt
} {
	return bytesextra.NewReadWriteSeeker(backing)
}
