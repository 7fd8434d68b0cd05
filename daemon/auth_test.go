package daemon

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Karlson2k/libmicrohttpd-sub001/digestauth"
	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

// digestResponse is the client half of RFC 7616 with SHA-256 and
// qop=auth.
func digestResponse(method, uri, username, realm, password, nonce, nc, cnonce string) string {
	ha1 := sha256.Sum256([]byte(username + ":" + realm + ":" + password))
	ha2 := sha256.Sum256([]byte(method + ":" + uri))
	resp := sha256.Sum256([]byte(hex.EncodeToString(ha1[:]) + ":" + nonce + ":" +
		nc + ":" + cnonce + ":auth:" + hex.EncodeToString(ha2[:])))
	return hex.EncodeToString(resp[:])
}

func challengeParam(t *testing.T, challenge, key string) string {
	t.Helper()
	i := strings.Index(challenge, key+`="`)
	if i < 0 {
		t.Fatalf("no %s in challenge %q", key, challenge)
	}
	rest := challenge[i+len(key)+2:]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		t.Fatalf("unterminated %s in challenge %q", key, challenge)
	}
	return rest[:j]
}

func TestDigestAuthFlow(t *testing.T) {
	const realm = "api"
	h := func(req *Request) Action {
		v, st := req.Daemon().DigestVerifier(realm)
		if st != SCOK {
			return Respond(stream.NewReply(500))
		}
		now := uint32(time.Now().Unix())
		res := v.Check(req.HTTP(), "alice", "secret", now)
		if res == digestauth.ResultOk {
			return Respond(stream.NewReply(200).WithBuffer([]byte("granted")))
		}
		var peer [16]byte
		n, _ := req.PeerAddr(peer[:])
		ch, ok := v.Challenge(peer[:n], now, digestauth.AlgoSHA256, res.Retryable(), false)
		if !ok {
			return Respond(stream.NewReply(500))
		}
		return Respond(stream.NewReply(401).
			AddField("WWW-Authenticate", ch).
			WithBuffer([]byte("denied")))
	}
	_, addr := startDaemon(t, h, func(d *Daemon) {
		d.WithDigestAuth([]byte("0123456789abcdef0123456789abcdef"), 64, 300)
	})
	conn := dial(t, addr)
	br := bufio.NewReader(conn)

	// Unauthenticated probe draws the challenge.
	conn.Write([]byte("GET /secret HTTP/1.1\r\nHost: x\r\n\r\n"))
	r := readResponse(t, br)
	if r.status != 401 {
		t.Fatalf("probe status = %d", r.status)
	}
	challenge := r.headers["www-authenticate"]
	nonce := challengeParam(t, challenge, "nonce")
	if got := challengeParam(t, challenge, "realm"); got != realm {
		t.Fatalf("realm = %q", got)
	}

	authz := func(nc string) string {
		resp := digestResponse("GET", "/secret", "alice", realm, "secret", nonce, nc, "deadbeef")
		return fmt.Sprintf(`Digest username="alice", realm="%s", nonce="%s", uri="/secret", `+
			`response="%s", qop=auth, nc=%s, cnonce="deadbeef", algorithm=SHA-256`,
			realm, nonce, resp, nc)
	}
	send := func(a string) response {
		fmt.Fprintf(conn, "GET /secret HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", a)
		return readResponse(t, br)
	}

	first := authz("00000001")
	if r = send(first); r.status != 200 || r.body != "granted" {
		t.Fatalf("authenticated request: got %d %q", r.status, r.body)
	}

	// Same nonce count again: the replay bitmap rejects it and the new
	// challenge flags the nonce as stale.
	if r = send(first); r.status != 401 {
		t.Fatalf("replay status = %d, want 401", r.status)
	}
	if !strings.Contains(r.headers["www-authenticate"], "stale=true") {
		t.Errorf("replay challenge not marked stale: %q", r.headers["www-authenticate"])
	}

	// The nonce itself is still good for a higher count.
	if r = send(authz("00000002")); r.status != 200 {
		t.Fatalf("nc=2 status = %d", r.status)
	}

	// Wrong password never passes.
	bad := strings.Replace(authz("00000003"), `response="`, `response="00`, 1)
	if r = send(bad); r.status != 401 {
		t.Fatalf("tampered response accepted: %d", r.status)
	}
}

func TestDigestVerifierRequiresEntropy(t *testing.T) {
	d, _ := startDaemon(t, helloHandler, nil)
	if _, st := d.DigestVerifier("api"); st != SCAuthEntropyMissing {
		t.Fatalf("DigestVerifier = %v, want auth_entropy_missing", st)
	}
}
