package stream

import (
	"bytes"
	"testing"
)

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		line    string
		strict  Strictness
		code    uint16
		method  Method
		path    string
		query   string
		version Version
	}{
		{"GET / HTTP/1.1", StrictnessDefault, 0, MethodGet, "/", "", Version11},
		{"POST /a/b?x=1&y=2 HTTP/1.0", StrictnessDefault, 0, MethodPost, "/a/b", "x=1&y=2", Version10},
		{"OPTIONS * HTTP/1.1", StrictnessDefault, 0, MethodOptions, "*", "", Version11},
		{"GET / HTTP/1.2", StrictnessDefault, StatusHTTPVersionNotSupported, 0, "", "", 0},
		{"GET /", StrictnessDefault, StatusBadRequest, 0, "", "", 0},
		{"BREW / HTTP/1.1", StrictnessDefault, StatusNotImplemented, 0, "", "", 0},
		{"BREW / HTTP/1.1", StrictnessLoose, 0, MethodOther, "/", "", Version11},
		{"GET /a b HTTP/1.1", StrictnessDefault, StatusBadRequest, 0, "", "", 0},
		{"GET  /multi  HTTP/1.1", StrictnessLoose, 0, MethodGet, "/multi", "", Version11},
		{"GE\x01T / HTTP/1.1", StrictnessDefault, StatusBadRequest, 0, "", "", 0},
	}
	for _, tc := range tests {
		var req Request
		code := parseRequestLine([]byte(tc.line), tc.strict, &req)
		if code != tc.code {
			t.Errorf("%q: code = %d, want %d", tc.line, code, tc.code)
			continue
		}
		if code != 0 {
			continue
		}
		if req.Method != tc.method || string(req.Path) != tc.path ||
			string(req.Query) != tc.query || req.Version != tc.version {
			t.Errorf("%q: got %v %q %q %v", tc.line, req.Method, req.Path, req.Query, req.Version)
		}
	}
}

func TestParseFieldLine(t *testing.T) {
	name, value, ok := parseFieldLine([]byte("Host:  example.com \t"))
	if !ok || string(name) != "Host" || string(value) != "example.com" {
		t.Errorf("got %q %q %v", name, value, ok)
	}
	if _, _, ok := parseFieldLine([]byte(": no name")); ok {
		t.Error("empty name accepted")
	}
	if _, _, ok := parseFieldLine([]byte("no colon")); ok {
		t.Error("missing colon accepted")
	}
	if _, _, ok := parseFieldLine([]byte("Bad Name: v")); ok {
		t.Error("space in name accepted")
	}
	if _, value, ok = parseFieldLine([]byte("Empty:")); !ok || len(value) != 0 {
		t.Errorf("empty value: %q %v", value, ok)
	}
}

func TestGetArgs(t *testing.T) {
	query := []byte("a=1&b=hello+world&c=%2Fpath&flag&=skip&d=")
	args := GetArgs(append([]byte(nil), query...), nil)
	want := []struct{ name, value string }{
		{"a", "1"},
		{"b", "hello world"},
		{"c", "/path"},
		{"flag", ""},
		{"", "skip"},
		{"d", ""},
	}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i, w := range want {
		if string(args[i].Name) != w.name || string(args[i].Value) != w.value {
			t.Errorf("arg %d = %q=%q, want %q=%q", i, args[i].Name, args[i].Value, w.name, w.value)
		}
	}
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	r := Request{Fields: []Field{
		{Name: []byte("Content-Type"), Value: []byte("text/plain")},
		{Name: []byte("X-Two"), Value: []byte("first")},
		{Name: []byte("x-two"), Value: []byte("second")},
	}}
	v, ok := r.HeaderValue("content-type")
	if !ok || string(v) != "text/plain" {
		t.Errorf("got %q %v", v, ok)
	}
	v, _ = r.HeaderValue("X-TWO")
	if string(v) != "first" {
		t.Errorf("duplicate lookup must return the first: %q", v)
	}
	if _, ok := r.HeaderValue("Missing"); ok {
		t.Error("missing header reported present")
	}
}

func TestLookupMethodMatchesNames(t *testing.T) {
	for m := MethodGet; m <= MethodTrace; m++ {
		if got := lookupMethod([]byte(m.String())); got != m {
			t.Errorf("lookupMethod(%q) = %v", m.String(), got)
		}
	}
	if lookupMethod([]byte("get")) != MethodOther {
		t.Error("method tokens are case-sensitive")
	}
}

func TestEqualFold(t *testing.T) {
	if !equalFold([]byte("Transfer-Encoding"), []byte("transfer-encoding")) {
		t.Error("fold mismatch")
	}
	if equalFold([]byte("a"), []byte("ab")) {
		t.Error("length mismatch accepted")
	}
}

func TestPercentDecode(t *testing.T) {
	got := percentDecode([]byte("a%20b%2fc"))
	if string(got) != "a b/c" {
		t.Errorf("got %q", got)
	}
	// Lenient: broken escapes pass through.
	got = percentDecode([]byte("a%2"))
	if string(got) != "a%2" {
		t.Errorf("got %q", got)
	}
	if _, ok := percentDecodeStrict([]byte("a%2")); ok {
		t.Error("strict decode accepted a truncated escape")
	}
	if _, ok := percentDecodeStrict([]byte("a%zz")); ok {
		t.Error("strict decode accepted bad hex")
	}
	if got, ok := percentDecodeStrict(bytes.Clone([]byte("%41%42"))); !ok || string(got) != "AB" {
		t.Errorf("got %q %v", got, ok)
	}
}

func TestNumericHelpers(t *testing.T) {
	if n, ok := atoiBytes([]byte("18446744073709551615")); !ok || n != 1<<64-1 {
		t.Errorf("max uint64: %d %v", n, ok)
	}
	if _, ok := atoiBytes([]byte("18446744073709551616")); ok {
		t.Error("overflow accepted")
	}
	if _, ok := atoiBytes([]byte("12a")); ok {
		t.Error("non-digit accepted")
	}
	var buf [20]byte
	if n := writeUint(12345, buf[:]); string(buf[:n]) != "12345" {
		t.Errorf("writeUint: %q", buf[:n])
	}
	if n := writeHex(0xdeadbeef, buf[:]); string(buf[:n]) != "deadbeef" {
		t.Errorf("writeHex: %q", buf[:n])
	}
	if n := writeHex(0, buf[:]); string(buf[:n]) != "0" {
		t.Errorf("writeHex zero: %q", buf[:n])
	}
}
