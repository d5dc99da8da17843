package reference

// Seed is the stimulus seed shared by every case.
const Seed = 1234

// Rand is the xorshift128 generator whose sequence all stimulus is drawn
// from. The sequence for a seed is fixed so results are reproducible
// across implementations.
type Rand struct {
	x, y, z, w uint32
}

func NewRand(seed uint32) *Rand {
	return &Rand{
		x: uint32(-int32(seed)) ^ 123456789,
		y: 362436069 * seed,
		z: 521288629 ^ (seed >> 7),
		w: 88675123 ^ (seed << 3),
	}
}

func (r *Rand) Uint32() uint32 {
	w := r.w
	t := r.x ^ (r.x << 11)
	r.x, r.y, r.z = r.y, r.z, w
	r.w = w ^ (w >> 19) ^ (t ^ (t >> 8))
	return w
}
