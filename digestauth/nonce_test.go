package digestauth

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var testEntropy = []byte{
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
}

func newTestTable(slots int) *NonceTable {
	return NewNonceTable(slots, testEntropy, AlgoSHA256, 300)
}

func issueNonce(t *testing.T, tbl *NonceTable, now uint32) []byte {
	t.Helper()
	out := make([]byte, NonceHexLen)
	if !tbl.NewNonce([]byte{192, 0, 2, 1}, now, out) {
		t.Fatal("NewNonce failed")
	}
	return out
}

func TestNonceFormat(t *testing.T) {
	tbl := newTestTable(8)
	nonce := issueNonce(t, tbl, 1000)
	if len(nonce) != 72 {
		t.Fatalf("nonce length %d", len(nonce))
	}
	var bin [NonceBinLen]byte
	if !hexDecodeLower(bin[:], nonce) {
		t.Fatal("emitted nonce is not lowercase hex")
	}
	if exp := binary.LittleEndian.Uint32(bin[32:]); exp != 1300 {
		t.Errorf("expiration = %d, want 1300", exp)
	}
}

func TestNoncesAreUnique(t *testing.T) {
	tbl := newTestTable(64)
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		n := string(issueNonce(t, tbl, 1000))
		if seen[n] {
			t.Fatal("duplicate nonce despite identical inputs")
		}
		seen[n] = true
	}
}

func TestReplayWindow(t *testing.T) {
	tbl := newTestTable(8)
	nonce := issueNonce(t, tbl, 1000)
	now := uint32(1001)

	steps := []struct {
		nc   uint64
		want NonceCheck
	}{
		{1, NonceOk},
		{2, NonceOk},
		{65, NonceOk},    // jumps the window forward by 63
		{2, NonceStale},  // bit for 2 was carried into the shifted mask
		{3, NonceOk},     // still inside the window, never spent
		{1, NonceStale},  // fell out of the 64-entry window
		{65, NonceStale}, // exact replay of the maximum
		{3, NonceStale},  // second use
		{66, NonceOk},
	}
	for i, st := range steps {
		if got := tbl.CheckNonceNC(nonce, st.nc, now); got != st.want {
			t.Errorf("step %d: nc=%d got %v, want %v", i, st.nc, got, st.want)
		}
	}
}

func TestUppercaseNonceRejected(t *testing.T) {
	tbl := newTestTable(8)
	nonce := issueNonce(t, tbl, 1000)
	upper := bytes.ToUpper(nonce)
	if got := tbl.CheckNonceNC(upper, 1, 1001); got != NonceWrong {
		t.Errorf("uppercase nonce: got %v, want NonceWrong", got)
	}
	if got := tbl.CheckNonceNC(nonce, 1, 1001); got != NonceOk {
		t.Errorf("original nonce: got %v, want NonceOk", got)
	}
}

func TestForgedNonceWrong(t *testing.T) {
	tbl := newTestTable(8)
	issueNonce(t, tbl, 1000)
	forged := bytes.Repeat([]byte("ab"), NonceBinLen)
	if got := tbl.CheckNonceNC(forged, 1, 1001); got != NonceWrong {
		t.Errorf("got %v, want NonceWrong", got)
	}
}

func TestEvictedNonceStale(t *testing.T) {
	// Single slot: the second nonce evicts the first, whose holder must
	// see stale (issued but overwritten), not wrong.
	tbl := newTestTable(1)
	first := issueNonce(t, tbl, 1000)
	issueNonce(t, tbl, 2000) // later expiration wins the slot
	if got := tbl.CheckNonceNC(first, 1, 1001); got != NonceStale {
		t.Errorf("evicted nonce: got %v, want NonceStale", got)
	}
}

func TestFutureNonceWrong(t *testing.T) {
	tbl := newTestTable(1)
	issueNonce(t, tbl, 5000) // slot now holds expiry 5300
	// Forge a nonce claiming expiry 5200, i.e. issued at 4900, checked
	// at now=4000: issuance in the future.
	var bin [NonceBinLen]byte
	binary.LittleEndian.PutUint32(bin[32:], 5200)
	forged := make([]byte, NonceHexLen)
	hexEncode(forged, bin[:])
	if got := tbl.CheckNonceNC(forged, 1, 4000); got != NonceWrong {
		t.Errorf("future-issued nonce: got %v, want NonceWrong", got)
	}
}

func TestHexRoundTrip(t *testing.T) {
	src := []byte{0x00, 0x7f, 0xff, 0xde, 0xad}
	enc := make([]byte, 2*len(src))
	hexEncode(enc, src)
	if string(enc) != "007fffdead" {
		t.Errorf("encoded %q", enc)
	}
	dec := make([]byte, len(src))
	if !hexDecodeLower(dec, enc) || !bytes.Equal(dec, src) {
		t.Errorf("round trip got %x", dec)
	}
	if hexDecodeLower(dec, []byte("007FFFDEAD")) {
		t.Error("uppercase accepted")
	}
	if hexDecodeLower(dec, []byte("007fffdea")) {
		t.Error("odd length accepted")
	}
}

func TestExpired(t *testing.T) {
	tbl := newTestTable(8)
	if tbl.Expired(1300, 1000) {
		t.Error("unexpired nonce reported expired")
	}
	if !tbl.Expired(1300, 1301) {
		t.Error("expired nonce not detected")
	}
	// Wrap-around: expiry just past zero, now just before.
	if tbl.Expired(5, 0xfffffff0) {
		t.Error("wrap-around comparison broken")
	}
}
