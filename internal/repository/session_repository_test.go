package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("some-bearer-token")
	b := HashToken("some-bearer-token")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex sha-256 is 64 characters")
}

func TestHashToken_DistinctTokens(t *testing.T) {
	assert.NotEqual(t, HashToken("token-a"), HashToken("token-b"))
}

func TestHashToken_KnownVector(t *testing.T) {
	// sha256("") is a fixed value; guards against accidental salting.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashToken(""))
}
