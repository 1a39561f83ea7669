package profile

import (
	"hash/fnv"
	"math/rand/v2"
)

// seedSpread bounds the per-sensor offset added to the global seed.
const seedSpread = 10000

// DeriveSeed turns the experiment seed into a stable per-sensor seed. It
// depends only on its arguments, so a sensor replays the same sequence no
// matter how many other sensors run beside it.
func DeriveSeed(global int64, key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return global + int64(h.Sum64()%seedSpread)
}

// Stream selects one of the independent generators a worker owns.
type Stream uint64

const (
	// ValueStream drives sampled sensor values
	ValueStream Stream = 0
	// AdminStream drives the heartbeat vocabulary
	AdminStream Stream = 1
)

// NewRand returns a private generator for seed. PCG is a fixed algorithm, so
// identical seeds give identical sequences across runs and Go releases.
func NewRand(seed int64, stream Stream) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(stream)))
}
