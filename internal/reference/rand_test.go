package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandSequence(t *testing.T) {
	r := NewRand(Seed)
	var got []uint32
	for i := 0; i < 5; i++ {
		got = append(got, r.Uint32())
	}
	assert.Equal(t, []uint32{88683939, 3699756767, 1837674572, 3821644186, 2942401645}, got)
}

func TestRandReproducible(t *testing.T) {
	a, b := NewRand(7), NewRand(7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Uint32(), b.Uint32())
	}
}
