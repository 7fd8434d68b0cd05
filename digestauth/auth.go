package digestauth

import (
	"bytes"
	"encoding/binary"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// Result is the verification outcome handed to the application, which
// maps it onto 401 (missing/stale/wrong) or 400/500 responses. Auth
// failures are never connection-fatal.
type Result int8

const (
	ResultOk Result = iota
	ResultWrongUsername
	ResultWrongRealm
	ResultNonceWrong
	ResultNonceStale
	ResultResponseWrong
	ResultHeaderMissing
	ResultHeaderBroken
	ResultTooLarge
	ResultUnsupportedAlgo
	ResultWrongQOP
	ResultError
)

var resultNames = [...]string{
	ResultOk:              "ok",
	ResultWrongUsername:   "wrong_username",
	ResultWrongRealm:      "wrong_realm",
	ResultNonceWrong:      "nonce_wrong",
	ResultNonceStale:      "nonce_stale",
	ResultResponseWrong:   "response_wrong",
	ResultHeaderMissing:   "header_missing",
	ResultHeaderBroken:    "header_broken",
	ResultTooLarge:        "too_large",
	ResultUnsupportedAlgo: "unsupported_algo",
	ResultWrongQOP:        "wrong_qop",
	ResultError:           "error",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "unknown"
}

// Retryable reports results a client can fix by re-authenticating with
// a fresh challenge.
func (r Result) Retryable() bool {
	return r == ResultNonceStale
}

// Verifier checks Digest Authorization headers against one realm and
// one nonce table. Algos lists the algorithms the daemon accepts and
// advertises, strongest first; empty means SHA-512-256, SHA-256, MD5.
type Verifier struct {
	Realm string
	Table *NonceTable
	Algos []Algo
}

var defaultAlgoOrder = []Algo{AlgoSHA512_256, AlgoSHA256, AlgoMD5}

func (v *Verifier) algoOrder() []Algo {
	if len(v.Algos) > 0 {
		return v.Algos
	}
	return defaultAlgoOrder
}

func (v *Verifier) algoEnabled(a Algo) bool {
	for _, e := range v.algoOrder() {
		if e == a {
			return true
		}
	}
	return false
}

const digestPrefix = "digest "

// Check verifies the request's Authorization header against the
// expected username and password. now is seconds on the same monotonic
// clock the challenges were generated with.
func (v *Verifier) Check(req *stream.Request, username, password string, now uint32) Result {
	return v.check(req, username, nil, password, now)
}

// CheckDigest is Check with a precomputed H(username:realm:password)
// so the cleartext password never has to be stored. userDigest must
// have the size of the algorithm the client picked.
func (v *Verifier) CheckDigest(req *stream.Request, username string, userDigest []byte, now uint32) Result {
	return v.check(req, username, userDigest, "", now)
}

func (v *Verifier) check(req *stream.Request, username string, userDigest []byte, password string, now uint32) Result {
	authz, ok := req.HeaderValue("Authorization")
	if !ok {
		return ResultHeaderMissing
	}
	if len(authz) < len(digestPrefix) ||
		!equalFoldASCII(authz[:len(digestPrefix)], []byte(digestPrefix)) {
		return ResultHeaderMissing
	}
	// Private copy: the lexer compacts quoted strings in place and the
	// request buffer must stay intact.
	buf := append([]byte(nil), authz[len(digestPrefix):]...)
	var p Params
	switch parseParams(buf, &p) {
	case parseTooLarge:
		return ResultTooLarge
	case parseBroken:
		return ResultHeaderBroken
	}

	algo := AlgoMD5 // RFC 7616: absent algorithm means MD5
	if p.Algorithm != nil {
		var sess bool
		algo, sess, ok = lookupAlgo(p.Algorithm)
		if !ok || sess {
			return ResultUnsupportedAlgo
		}
	}
	if !v.algoEnabled(algo) {
		return ResultUnsupportedAlgo
	}
	if p.QOP == nil || !equalFoldASCII(p.QOP, []byte("auth")) {
		return ResultWrongQOP
	}
	if p.Realm == nil || !bytes.Equal(p.Realm, []byte(v.Realm)) {
		return ResultWrongRealm
	}
	if p.Nonce == nil || p.Response == nil || p.CNonce == nil ||
		p.NCRaw == nil || p.URI == nil {
		return ResultHeaderBroken
	}

	if res := v.checkUsername(&p, algo, username); res != ResultOk {
		return res
	}

	nc, ok := parseHexU64(p.NCRaw)
	if !ok || nc == 0 {
		return ResultHeaderBroken
	}
	var nbin [NonceBinLen]byte
	if len(p.Nonce) != NonceHexLen || !hexDecodeLower(nbin[:], p.Nonce) {
		return ResultNonceWrong
	}
	if v.Table.Expired(binary.LittleEndian.Uint32(nbin[nonceRandLen:]), now) {
		return ResultNonceStale
	}

	// The response signs the uri exactly as transmitted; compare the
	// decoded form against the request only afterwards.
	if res := v.checkResponse(&p, algo, username, userDigest, password, req.MethodRaw); res != ResultOk {
		return res
	}
	if !uriMatches(p.URI, req) {
		return ResultResponseWrong
	}

	// Burn the nc only after everything else verified, so forged
	// requests cannot exhaust the replay window.
	switch v.Table.CheckNonceNC(p.Nonce, nc, now) {
	case NonceOk:
		return ResultOk
	case NonceStale:
		return ResultNonceStale
	}
	return ResultNonceWrong
}

func (v *Verifier) checkUsername(p *Params, algo Algo, username string) Result {
	kind, ok := p.usernameKind()
	if !ok {
		return ResultHeaderBroken
	}
	switch kind {
	case UserStandard:
		if !bytes.Equal(p.Username, []byte(username)) {
			return ResultWrongUsername
		}
	case UserHashed:
		size := algo.Size()
		if len(p.Username) != 2*size {
			return ResultWrongUsername
		}
		var h Hasher
		var sum [32]byte
		var hexSum [64]byte
		h.Init(algo)
		h.Update([]byte(username))
		h.UpdateColon()
		h.Update([]byte(v.Realm))
		h.Finish(sum[:size])
		if h.HasError() {
			return ResultError
		}
		hexEncode(hexSum[:2*size], sum[:size])
		if !equalFoldASCII(p.Username, hexSum[:2*size]) {
			return ResultWrongUsername
		}
	case UserExtended:
		decoded, ok := decodeExtendedUsername(p.UsernameExt)
		if !ok {
			return ResultHeaderBroken
		}
		if !bytes.Equal(decoded, []byte(username)) {
			return ResultWrongUsername
		}
	}
	return ResultOk
}

// checkResponse recomputes response = H(H(A1):nonce:nc:cnonce:qop:H(A2))
// and compares it with the client's value.
func (v *Verifier) checkResponse(p *Params, algo Algo, username string, userDigest []byte, password string, method []byte) Result {
	size := algo.Size()
	var h Hasher
	var sum [32]byte
	var ha1 [64]byte
	var ha2 [64]byte
	var expect [64]byte
	h.Init(algo)

	if userDigest != nil {
		if len(userDigest) != size {
			return ResultError
		}
		hexEncode(ha1[:2*size], userDigest)
	} else {
		h.Update([]byte(username))
		h.UpdateColon()
		h.Update([]byte(v.Realm))
		h.UpdateColon()
		h.Update([]byte(password))
		h.Finish(sum[:size])
		hexEncode(ha1[:2*size], sum[:size])
	}

	h.Update(method)
	h.UpdateColon()
	h.Update(p.URI)
	h.Finish(sum[:size])
	hexEncode(ha2[:2*size], sum[:size])

	h.Update(ha1[:2*size])
	h.UpdateColon()
	h.Update(p.Nonce)
	h.UpdateColon()
	h.Update(p.NCRaw)
	h.UpdateColon()
	h.Update(p.CNonce)
	h.UpdateColon()
	h.Update(p.QOP)
	h.UpdateColon()
	h.Update(ha2[:2*size])
	h.Finish(sum[:size])
	if h.HasError() {
		return ResultError
	}
	hexEncode(expect[:2*size], sum[:size])

	if !equalFoldASCII(p.Response, expect[:2*size]) {
		return ResultResponseWrong
	}
	return ResultOk
}

// uriMatches compares the signed uri parameter with the actual request:
// path byte-for-byte after lenient percent-decoding, query by re-parsing
// both sides with the same form parser and matching pairs and counts.
func uriMatches(uri []byte, req *stream.Request) bool {
	u := append([]byte(nil), uri...)
	var uPath, uQuery []byte
	if q := bytes.IndexByte(u, '?'); q >= 0 {
		uPath, uQuery = u[:q], u[q+1:]
	} else {
		uPath = u
	}
	reqPath := percentDecodeLenient(append([]byte(nil), req.Path...))
	if !bytes.Equal(percentDecodeLenient(uPath), reqPath) {
		return false
	}
	uArgs := stream.GetArgs(uQuery, nil)
	rArgs := stream.GetArgs(append([]byte(nil), req.Query...), nil)
	if len(uArgs) != len(rArgs) {
		return false
	}
	for i := range uArgs {
		if !bytes.Equal(uArgs[i].Name, rArgs[i].Name) ||
			!bytes.Equal(uArgs[i].Value, rArgs[i].Value) {
			return false
		}
	}
	return true
}

// Challenge renders one WWW-Authenticate header value for a 401 reply,
// generating and registering a fresh nonce. peer is the client address
// in binary form; stale asks the client to retry with the new nonce
// without re-prompting the user.
func (v *Verifier) Challenge(peer []byte, now uint32, algo Algo, stale, userhash bool) (string, bool) {
	var nonce [NonceHexLen]byte
	if !v.Table.NewNonce(peer, now, nonce[:]) {
		return "", false
	}
	b := make([]byte, 0, 192)
	b = append(b, `Digest realm="`...)
	b = append(b, v.Realm...)
	b = append(b, `", qop="auth", algorithm=`...)
	b = append(b, algo.Token()...)
	b = append(b, `, nonce="`...)
	b = append(b, nonce[:]...)
	b = append(b, '"')
	if userhash {
		b = append(b, `, userhash=true`...)
	}
	if stale {
		b = append(b, `, stale=true`...)
	}
	return string(b), true
}

// Challenges renders one challenge per enabled algorithm in preference
// order, for emission as separate WWW-Authenticate headers.
func (v *Verifier) Challenges(peer []byte, now uint32, stale, userhash bool) []string {
	order := v.algoOrder()
	out := make([]string, 0, len(order))
	for _, a := range order {
		if c, ok := v.Challenge(peer, now, a, stale, userhash); ok {
			out = append(out, c)
		}
	}
	return out
}
