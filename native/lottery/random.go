package lottery

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// CryptoRandSource draws from the operating system's entropy pool. Deployments
// with a verifiable-randomness collaborator plug their own RandomSource in
// instead; this source covers local and test networks.
type CryptoRandSource struct{}

// Draw returns a uniform 64-bit value.
func (CryptoRandSource) Draw() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("lottery: randomness read: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
