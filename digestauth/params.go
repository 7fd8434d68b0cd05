package digestauth

// Authorization header parameter lexing. The parser mutates its input
// in place (quoted-string escapes are compacted), so callers hand in a
// private copy of the header value.

// MaxParamSize bounds a single parameter value. Anything larger is
// refused before credentials are even looked at.
const MaxParamSize = 65535

type parseStatus uint8

const (
	parseOK parseStatus = iota
	parseBroken
	parseTooLarge
)

// Params holds the recognized Digest parameters. Unrecognized ones are
// skipped; duplicates keep the first occurrence. Values alias the
// parsed buffer.
type Params struct {
	Username    []byte // "username"
	UsernameExt []byte // "username*", still UTF-8''-encoded
	Userhash    bool
	Realm       []byte
	Nonce       []byte
	URI         []byte
	Response    []byte
	Algorithm   []byte
	CNonce      []byte
	NCRaw       []byte
	QOP         []byte
	Opaque      []byte

	hasUsername bool
	hasUserhash bool
}

// parseParams walks the comma-separated auth-params after the
// "Digest " prefix.
func parseParams(v []byte, p *Params) parseStatus {
	i := 0
	for {
		for i < len(v) && (v[i] == ' ' || v[i] == '\t' || v[i] == ',') {
			i++
		}
		if i >= len(v) {
			return parseOK
		}
		keyStart := i
		for i < len(v) && v[i] != '=' && v[i] != ',' {
			i++
		}
		if i >= len(v) || v[i] != '=' {
			return parseBroken
		}
		key := trimOWS(v[keyStart:i])
		i++
		for i < len(v) && (v[i] == ' ' || v[i] == '\t') {
			i++
		}
		var val []byte
		if i < len(v) && v[i] == '"' {
			i++
			start := i
			w := i
			for {
				if i >= len(v) {
					return parseBroken // unterminated quoted-string
				}
				c := v[i]
				if c == '"' {
					i++
					break
				}
				if c == '\\' {
					i++
					if i >= len(v) {
						return parseBroken
					}
					c = v[i]
				}
				v[w] = c
				w++
				i++
			}
			val = v[start:w]
		} else {
			start := i
			for i < len(v) && v[i] != ',' {
				i++
			}
			val = trimOWS(v[start:i])
		}
		if len(val) > MaxParamSize {
			return parseTooLarge
		}
		p.assign(key, val)
	}
}

func (p *Params) assign(key, val []byte) {
	switch {
	case equalFoldASCII(key, []byte("username")):
		if !p.hasUsername {
			p.Username = val
			p.hasUsername = true
		}
	case equalFoldASCII(key, []byte("username*")):
		if p.UsernameExt == nil {
			p.UsernameExt = val
		}
	case equalFoldASCII(key, []byte("userhash")):
		if !p.hasUserhash {
			p.hasUserhash = true
			p.Userhash = equalFoldASCII(val, []byte("true"))
		}
	case equalFoldASCII(key, []byte("realm")):
		if p.Realm == nil {
			p.Realm = val
		}
	case equalFoldASCII(key, []byte("nonce")):
		if p.Nonce == nil {
			p.Nonce = val
		}
	case equalFoldASCII(key, []byte("uri")):
		if p.URI == nil {
			p.URI = val
		}
	case equalFoldASCII(key, []byte("response")):
		if p.Response == nil {
			p.Response = val
		}
	case equalFoldASCII(key, []byte("algorithm")):
		if p.Algorithm == nil {
			p.Algorithm = val
		}
	case equalFoldASCII(key, []byte("cnonce")):
		if p.CNonce == nil {
			p.CNonce = val
		}
	case equalFoldASCII(key, []byte("nc")):
		if p.NCRaw == nil {
			p.NCRaw = val
		}
	case equalFoldASCII(key, []byte("qop")):
		if p.QOP == nil {
			p.QOP = val
		}
	case equalFoldASCII(key, []byte("opaque")):
		if p.Opaque == nil {
			p.Opaque = val
		}
	}
}

// UsernameKind is the form the client chose to transmit its identity.
type UsernameKind uint8

const (
	UserStandard UsernameKind = iota
	UserHashed
	UserExtended
)

// usernameKind validates which username form is present. Supplying both
// the plain and the extended form, or userhash together with the
// extended form, is malformed.
func (p *Params) usernameKind() (UsernameKind, bool) {
	if p.UsernameExt != nil {
		if p.hasUsername || p.Userhash {
			return 0, false
		}
		return UserExtended, true
	}
	if !p.hasUsername {
		return 0, false
	}
	if p.Userhash {
		return UserHashed, true
	}
	return UserStandard, true
}

// decodeExtendedUsername strips the mandatory UTF-8'' prefix of an RFC
// 5987 extended value and percent-decodes the remainder in place.
func decodeExtendedUsername(b []byte) ([]byte, bool) {
	const prefix = "UTF-8''"
	if len(b) < len(prefix) || !equalFoldASCII(b[:len(prefix)], []byte(prefix)) {
		return nil, false
	}
	return percentDecodeStrict(b[len(prefix):])
}
