package connmgr

import (
	"crypto/rand"
	"io"
	"math/big"
)

// pickRandom returns a uniformly random element of candidates using src as
// the entropy source. The injectable io.Reader lets tests substitute a
// deterministic source for crypto/rand.Reader.
func pickRandom(src io.Reader, candidates []string) (string, error) {
	n, err := rand.Int(src, big.NewInt(int64(len(candidates))))
	if err != nil {
		return "", err
	}
	return candidates[n.Int64()], nil
}
