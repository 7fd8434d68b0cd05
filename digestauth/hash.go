// Package digestauth implements RFC 7616 Digest authentication for the
// server side: challenge generation with replay-protected nonces, and
// verification of Authorization headers including userhash and extended
// username forms. MD5, SHA-256 and SHA-512/256 are supported; the
// -sess variants and auth-int are recognized but rejected.
package digestauth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// Algo identifies a digest algorithm. The zero value means "no
// algorithm"; a Hasher initialized with it ignores every operation.
type Algo uint8

const (
	AlgoNone Algo = iota
	AlgoMD5
	AlgoSHA256
	AlgoSHA512_256
)

// Size returns the digest length in bytes.
func (a Algo) Size() int {
	switch a {
	case AlgoMD5:
		return md5.Size
	case AlgoSHA256:
		return sha256.Size
	case AlgoSHA512_256:
		return sha512.Size256
	}
	return 0
}

// Token returns the RFC 7616 algorithm token.
func (a Algo) Token() string {
	switch a {
	case AlgoMD5:
		return "MD5"
	case AlgoSHA256:
		return "SHA-256"
	case AlgoSHA512_256:
		return "SHA-512-256"
	}
	return ""
}

func (a Algo) String() string { return a.Token() }

// lookupAlgo resolves an algorithm token from an Authorization header.
// sess reports a -sess variant, which is parsed but not accepted.
func lookupAlgo(token []byte) (algo Algo, sess bool, ok bool) {
	if n := len(token); n > 5 && equalFoldASCII(token[n-5:], []byte("-sess")) {
		sess = true
		token = token[:n-5]
	}
	switch {
	case equalFoldASCII(token, []byte("MD5")):
		return AlgoMD5, sess, true
	case equalFoldASCII(token, []byte("SHA-256")):
		return AlgoSHA256, sess, true
	case equalFoldASCII(token, []byte("SHA-512-256")):
		return AlgoSHA512_256, sess, true
	}
	return AlgoNone, sess, false
}

var colon = []byte{':'}

// Hasher is the digest facade used for every hash in this package. The
// zero value is inert: all operations are no-ops until Init. Misuse is
// latched and reported by HasError, checked once after a complete
// H(A1)/H(A2)/response calculation.
type Hasher struct {
	algo Algo
	h    hash.Hash
	bad  bool
}

func (d *Hasher) Init(a Algo) {
	d.algo = a
	switch a {
	case AlgoMD5:
		d.h = md5.New()
	case AlgoSHA256:
		d.h = sha256.New()
	case AlgoSHA512_256:
		d.h = sha512.New512_256()
	default:
		d.h = nil
		d.bad = a != AlgoNone
	}
}

func (d *Hasher) Update(b []byte) {
	if d.h != nil {
		d.h.Write(b)
	}
}

func (d *Hasher) UpdateColon() { d.Update(colon) }

// Finish writes the digest into out and resets the state for the next
// calculation. out must hold at least Size() bytes.
func (d *Hasher) Finish(out []byte) {
	if d.h == nil {
		return
	}
	if len(out) < d.algo.Size() {
		d.bad = true
		return
	}
	d.h.Sum(out[:0])
	d.h.Reset()
}

func (d *Hasher) Reset() {
	if d.h != nil {
		d.h.Reset()
	}
}

func (d *Hasher) Deinit() {
	d.h = nil
	d.algo = AlgoNone
}

func (d *Hasher) HasError() bool { return d.bad }

const lowerHex = "0123456789abcdef"

// hexEncode writes lowercase hex; dst must hold 2*len(src).
func hexEncode(dst, src []byte) {
	for i, b := range src {
		dst[2*i] = lowerHex[b>>4]
		dst[2*i+1] = lowerHex[b&0xF]
	}
}

// hexDecodeLower decodes exactly 2*len(dst) lowercase hex characters.
// Uppercase digits fail: this server never emits them, so their
// presence marks a forged nonce.
func hexDecodeLower(dst, src []byte) bool {
	if len(src) != 2*len(dst) {
		return false
	}
	for i := range dst {
		hi := lowerHexVal(src[2*i])
		lo := lowerHexVal(src[2*i+1])
		if hi < 0 || lo < 0 {
			return false
		}
		dst[i] = byte(hi<<4 | lo)
	}
	return true
}

func lowerHexVal(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}
