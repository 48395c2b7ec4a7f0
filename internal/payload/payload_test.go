package payload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCloneIsIndependent verifies that mutating a clone never leaks into the
// original payload, and vice versa.
func TestCloneIsIndependent(t *testing.T) {
	original := FromBytes("doc.pdf", []byte("hello thumbnail pipeline"))
	clone := Clone(original)

	require.NotNil(t, clone)
	assert.Equal(t, original.Fingerprint, clone.Fingerprint)
	assert.Equal(t, original.Data, clone.Data)

	// Mutate the clone's bytes; the original must be untouched.
	clone.Data[0] = 'X'
	assert.Equal(t, byte('h'), original.Data[0])

	// And the other way around.
	original.Data[1] = 'Y'
	assert.Equal(t, byte('e'), clone.Data[1])
}

func TestCloneNil(t *testing.T) {
	assert.Nil(t, Clone(nil))
}

// TestFromBytesCopies verifies the caller's slice stays reusable.
func TestFromBytesCopies(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	p := FromBytes("doc.pdf", src)

	src[0] = 99
	assert.Equal(t, byte(1), p.Data[0])
}

func TestFingerprintStable(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 4096)
	assert.Equal(t, Fingerprint(data), Fingerprint(data))
}

// TestFingerprintLengthSensitive checks that two documents sharing a 1 KiB
// prefix but differing in length get distinct fingerprints.
func TestFingerprintLengthSensitive(t *testing.T) {
	long := bytes.Repeat([]byte{0xCD}, 8192)
	short := long[:2048]
	assert.NotEqual(t, Fingerprint(long), Fingerprint(short))
}

func TestFingerprintSmallInput(t *testing.T) {
	assert.NotEmpty(t, Fingerprint([]byte("x")))
	assert.NotEqual(t, Fingerprint([]byte("x")), Fingerprint([]byte("y")))
}
