package consensus

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/btpcsuite/btpcd/chainhash"
)

// Solution is a claimed proof of work over a block header.
type Solution struct {
	Nonce      uint64
	ExtraNonce uint64
	Hash       chainhash.Hash
	Difficulty uint64
	Timestamp  uint64
}

// ComputeProofHash hashes a header with a nonce pair the way miners and
// validators both must: double sha512 over header bytes, nonce, and
// extra nonce, all big-endian.
func ComputeProofHash(headerBytes []byte, nonce, extraNonce uint64) chainhash.Hash {
	buf := make([]byte, 0, len(headerBytes)+16)
	buf = append(buf, headerBytes...)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	binary.BigEndian.PutUint64(n[:], extraNonce)
	buf = append(buf, n[:]...)

	return chainhash.DoubleHashH(buf)
}

// Valid recomputes the solution's hash from the header bytes and checks
// it both matches the claimed hash and meets the target.
func (s *Solution) Valid(headerBytes []byte, target *big.Int) bool {
	if !MeetsTarget(&s.Hash, target) {
		return false
	}
	computed := ComputeProofHash(headerBytes, s.Nonce, s.ExtraNonce)
	return computed == s.Hash
}

// CheckTimestamp rejects solutions stamped more than maxFuture seconds
// ahead of local time.
func (s *Solution) CheckTimestamp(maxFuture uint64) error {
	limit := uint64(time.Now().Unix()) + maxFuture
	if s.Timestamp > limit {
		return errTimestampTooFar(s.Timestamp, limit)
	}
	return nil
}

// Miner grinds nonces over a header looking for a hash under the
// target.
type Miner struct {
	nonceStart uint64
	nonceEnd   uint64
	extraNonce uint64
	hashes     uint64
	startTime  time.Time
}

// NewMiner returns a miner that searches the given nonce range.
func NewMiner(nonceStart, nonceEnd uint64) *Miner {
	return &Miner{
		nonceStart: nonceStart,
		nonceEnd:   nonceEnd,
		startTime:  time.Now(),
	}
}

// Mine searches the nonce range for a solution.  Returns nil when the
// range is exhausted without finding one.
func (m *Miner) Mine(headerBytes []byte, target *big.Int) *Solution {
	for nonce := m.nonceStart; ; nonce++ {
		m.hashes++
		hash := ComputeProofHash(headerBytes, nonce, m.extraNonce)
		if MeetsTarget(&hash, target) {
			return &Solution{
				Nonce:       nonce,
				ExtraNonce:  m.extraNonce,
				Hash:        hash,
				Difficulty:  TargetToDifficulty(target),
				Timestamp:   uint64(time.Now().Unix()),
			}
		}
		if nonce == m.nonceEnd {
			break
		}
	}
	m.extraNonce++
	return nil
}

// Hashrate estimates the miner's hashes per second so far.
func (m *Miner) Hashrate() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.hashes) / elapsed
}
