package digestauth

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

const (
	// NonceBinLen is the decoded nonce size: 32 pseudo-random bytes
	// followed by a 4-byte little-endian expiration.
	NonceBinLen = 36
	// NonceHexLen is the wire form length.
	NonceHexLen  = 2 * NonceBinLen
	nonceRandLen = 32
)

// NonceCheck is the outcome of replay validation.
type NonceCheck uint8

const (
	NonceOk    NonceCheck = iota
	NonceStale            // issued by us but spent or evicted; client should retry
	NonceWrong            // never issued by us
)

type nonceSlot struct {
	nonce [NonceBinLen]byte
	inUse bool
	maxNC uint64
	mask  uint64 // bit i marks nc = maxNC-1-i as spent
}

// NonceTable is the fixed-size replay-protection table shared by all
// workers of a daemon. Slots are addressed by a hash of the nonce, so
// distinct nonces can contend for a slot; eviction is explicit and the
// loser merely sees "stale".
type NonceTable struct {
	mu       sync.Mutex
	slots    []nonceSlot
	entropy  []byte
	algo     Algo
	lifetime uint32 // nonce validity in seconds
}

// nonceCounter guarantees distinct nonces even for identical inputs
// generated within the same clock tick. Process-wide on purpose.
var nonceCounter atomic.Uint64

// NewNonceTable creates a table with the given number of slots. algo is
// the strongest digest enabled on the daemon; entropy is the secret
// seed material mixed into every nonce.
func NewNonceTable(slots int, entropy []byte, algo Algo, lifetimeSec uint32) *NonceTable {
	if slots < 1 {
		slots = 1
	}
	return &NonceTable{
		slots:    make([]nonceSlot, slots),
		entropy:  append([]byte(nil), entropy...),
		algo:     algo,
		lifetime: lifetimeSec,
	}
}

// Lifetime returns the configured nonce validity window in seconds.
func (t *NonceTable) Lifetime() uint32 { return t.lifetime }

// slotIndex hashes a binary nonce to its table slot (FNV-1a).
func slotIndex(nonce []byte, slots int) int {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, b := range nonce {
		h ^= uint64(b)
		h *= prime64
	}
	return int(h % uint64(slots))
}

// NewNonce generates a fresh nonce, binds it to its slot and writes the
// 72-character lowercase-hex form into out. peer is the client address
// in binary form, mixed in so a nonce leaks nothing across clients.
//
// A slot already bound to a nonce with a different expiration triggers
// a regeneration, up to 3 attempts. If all attempts collide the last
// nonce is kept anyway: one of the two clients will simply be told
// "stale" and retry.
func (t *NonceTable) NewNonce(peer []byte, now uint32, out []byte) bool {
	if len(out) < NonceHexLen {
		return false
	}
	expiry := now + t.lifetime
	var bin [NonceBinLen]byte
	binary.LittleEndian.PutUint32(bin[nonceRandLen:], expiry)
	for attempt := 0; ; attempt++ {
		t.fillRandom(bin[:nonceRandLen], peer, expiry)
		idx := slotIndex(bin[:], len(t.slots))
		t.mu.Lock()
		s := &t.slots[idx]
		collision := s.inUse &&
			binary.LittleEndian.Uint32(s.nonce[nonceRandLen:]) != expiry
		if !collision || attempt >= 2 {
			s.nonce = bin
			s.inUse = true
			s.maxNC = 0
			s.mask = 0
			t.mu.Unlock()
			hexEncode(out[:NonceHexLen], bin[:])
			return true
		}
		t.mu.Unlock()
	}
}

// fillRandom derives the pseudo-random part of a nonce from the table
// entropy, the generation counter, the peer address and the expiration.
// Digests shorter than the target are extended by chained rounds.
func (t *NonceTable) fillRandom(dst []byte, peer []byte, expiry uint32) {
	var h Hasher
	h.Init(t.algo)
	size := t.algo.Size()
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], nonceCounter.Add(1))
	var exp [4]byte
	binary.LittleEndian.PutUint32(exp[:], expiry)
	var sum [32]byte
	off := 0
	for off < len(dst) {
		h.Update(t.entropy)
		h.Update(ctr[:])
		h.Update(peer)
		h.Update(exp[:])
		if off > 0 {
			h.Update(dst[:off])
		}
		h.Finish(sum[:size])
		off += copy(dst[off:], sum[:size])
	}
}

// CheckNonceNC validates a (nonce, nc) pair against the table and
// consumes the nc value on success. The 64-bit mask keeps a sliding
// window of recently spent counts below the maximum, so moderately
// out-of-order requests over concurrent client connections still
// authenticate while every replay is refused.
func (t *NonceTable) CheckNonceNC(nonceHex []byte, nc uint64, now uint32) NonceCheck {
	var bin [NonceBinLen]byte
	if len(nonceHex) != NonceHexLen || !hexDecodeLower(bin[:], nonceHex) {
		return NonceWrong
	}
	candExpiry := binary.LittleEndian.Uint32(bin[nonceRandLen:])
	idx := slotIndex(bin[:], len(t.slots))

	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[idx]
	if !s.inUse {
		return NonceWrong
	}
	if s.nonce == bin {
		switch {
		case nc > s.maxNC:
			shift := nc - s.maxNC
			if shift < 64 {
				s.mask = s.mask<<shift | 1<<(shift-1)
			} else {
				s.mask = 0
			}
			s.maxNC = nc
			return NonceOk
		case nc == s.maxNC:
			return NonceStale // exact replay
		default:
			back := s.maxNC - nc
			if back >= 64 {
				return NonceStale // fell out of the window
			}
			bit := uint64(1) << (back - 1)
			if s.mask&bit != 0 {
				return NonceStale
			}
			s.mask |= bit
			return NonceOk
		}
	}

	// The slot holds a different nonce. Decide forged vs evicted by
	// comparing expirations as wrap-around 32-bit values.
	storedExpiry := binary.LittleEndian.Uint32(s.nonce[nonceRandLen:])
	if olderU32(storedExpiry, candExpiry) {
		return NonceWrong // we would still hold the newer one
	}
	if issued := candExpiry - t.lifetime; olderU32(now, issued) {
		return NonceWrong // claims to come from the future
	}
	return NonceStale // plausibly issued, then overwritten
}

// Expired reports whether a decoded nonce expiration has passed.
func (t *NonceTable) Expired(expiry, now uint32) bool {
	return olderU32(expiry, now)
}

// olderU32 compares wrap-around 32-bit timestamps.
func olderU32(a, b uint32) bool {
	return int32(a-b) < 0
}
