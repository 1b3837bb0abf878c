package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := NewFingerprint([]byte{1, 2, 3}, Rice, "leaf")
	b := NewFingerprint([]byte{1, 2, 3}, Rice, " leaf ")
	assert.Equal(t, a, b)
	assert.Len(t, a.String(), 64)
	assert.Len(t, a.Short(), 12)
}

func TestFingerprintSensitiveToEveryComponent(t *testing.T) {
	base := NewFingerprint([]byte{1, 2, 3}, Rice, "leaf")
	assert.NotEqual(t, base, NewFingerprint([]byte{1, 2, 4}, Rice, "leaf"))
	assert.NotEqual(t, base, NewFingerprint([]byte{1, 2, 3}, Corn, "leaf"))
	assert.NotEqual(t, base, NewFingerprint([]byte{1, 2, 3}, Rice, "stem"))
	assert.NotEqual(t, base, NewFingerprint([]byte{1, 2, 3}, Rice, ""))
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	assert.NotEqual(t,
		NewFingerprint([]byte("ab"), Category("c"), ""),
		NewFingerprint([]byte("a"), Category("bc"), ""),
	)
}
