package digestauth

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func equalFoldASCII(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func hexVal(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// parseHexU64 parses a hex number such as the nc parameter. Both cases
// are accepted here; the strict lowercase rule applies to nonces only.
func parseHexU64(b []byte) (uint64, bool) {
	if len(b) == 0 || len(b) > 16 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		d := hexVal(c)
		if d < 0 {
			return 0, false
		}
		n = n<<4 | uint64(d)
	}
	return n, true
}

// percentDecodeStrict decodes %XX escapes in place, failing on any
// malformed escape.
func percentDecodeStrict(b []byte) ([]byte, bool) {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		if c == '%' {
			if r+2 >= len(b) {
				return nil, false
			}
			hi, lo := hexVal(b[r+1]), hexVal(b[r+2])
			if hi < 0 || lo < 0 {
				return nil, false
			}
			b[w] = byte(hi<<4 | lo)
			w++
			r += 2
			continue
		}
		b[w] = c
		w++
	}
	return b[:w], true
}

// percentDecodeLenient decodes %XX escapes in place, keeping malformed
// escapes verbatim. Used for the uri parameter before path comparison.
func percentDecodeLenient(b []byte) []byte {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		if c == '%' && r+2 < len(b) {
			hi, lo := hexVal(b[r+1]), hexVal(b[r+2])
			if hi >= 0 && lo >= 0 {
				b[w] = byte(hi<<4 | lo)
				w++
				r += 2
				continue
			}
		}
		b[w] = c
		w++
	}
	return b[:w]
}
