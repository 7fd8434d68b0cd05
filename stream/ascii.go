package stream

// Byte-level helpers shared by the parser and the serializer. All of
// them avoid allocation.

func atoiBytes(b []byte) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if n > (1<<64-1-d)/10 {
			return 0, false // overflow
		}
		n = n*10 + d
	}
	return n, true
}

// writeUint writes n in decimal into buf and returns the digit count.
// buf must be large enough (20 bytes covers uint64).
func writeUint(n uint64, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}
	digits := 0
	for temp := n; temp > 0; temp /= 10 {
		digits++
	}
	for i := digits - 1; i >= 0; i-- {
		buf[i] = '0' + byte(n%10)
		n /= 10
	}
	return digits
}

const lowerHexDigits = "0123456789abcdef"

// writeHex writes n in lowercase hex into buf and returns the length.
func writeHex(n uint64, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}
	digits := 0
	for temp := n; temp > 0; temp >>= 4 {
		digits++
	}
	for i := digits - 1; i >= 0; i-- {
		buf[i] = lowerHexDigits[n&0xF]
		n >>= 4
	}
	return digits
}

func hexToByte(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255 // invalid
}

func lowerByte(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// equalFold compares two byte strings without regard to ASCII case.
func equalFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if lowerByte(a[i]) != lowerByte(b[i]) {
			return false
		}
	}
	return true
}

// trimOWS drops optional whitespace (SP / HTAB) from both ends.
func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// isTokenChar reports whether c belongs to the RFC 7230 token alphabet.
func isTokenChar(c byte) bool {
	if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// percentDecode decodes %XX escapes in place, leniently: a broken escape
// is kept verbatim. Returns the decoded prefix of b.
func percentDecode(b []byte) []byte {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		if c == '%' && r+2 < len(b) {
			hi, lo := hexToByte(b[r+1]), hexToByte(b[r+2])
			if hi != 255 && lo != 255 {
				b[w] = hi<<4 | lo
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

// percentDecodeStrict decodes %XX escapes in place and fails on any
// malformed escape.
func percentDecodeStrict(b []byte) ([]byte, bool) {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		if c == '%' {
			if r+2 >= len(b) {
				return nil, false
			}
			hi, lo := hexToByte(b[r+1]), hexToByte(b[r+2])
			if hi == 255 || lo == 255 {
				return nil, false
			}
			b[w] = hi<<4 | lo
			w++
			r += 2
			continue
		}
		b[w] = c
		w++
	}
	return b[:w], true
}
