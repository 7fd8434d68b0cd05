package stream

import "bytes"

// Method is the parsed request method. Anything outside the known set is
// MethodOther and rejected before routing unless strictness is loosest.
type Method uint8

const (
	MethodOther Method = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
)

var methodNames = [...]string{
	MethodOther:   "",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

func lookupMethod(b []byte) Method {
	switch len(b) {
	case 3:
		if string(b) == "GET" {
			return MethodGet
		}
		if string(b) == "PUT" {
			return MethodPut
		}
	case 4:
		if string(b) == "HEAD" {
			return MethodHead
		}
		if string(b) == "POST" {
			return MethodPost
		}
	case 5:
		if string(b) == "TRACE" {
			return MethodTrace
		}
	case 6:
		if string(b) == "DELETE" {
			return MethodDelete
		}
	case 7:
		if string(b) == "CONNECT" {
			return MethodConnect
		}
		if string(b) == "OPTIONS" {
			return MethodOptions
		}
	}
	return MethodOther
}

// Version is the HTTP protocol version of the request.
type Version uint8

const (
	VersionUnknown Version = iota
	Version10
	Version11
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	}
	return "HTTP/?.?"
}

// Field is one parsed header or footer line. Name and Value alias the
// stream's receive buffer; they are valid until the stream resets.
type Field struct {
	Name  []byte
	Value []byte
}

// Arg is one name/value pair from the query string, percent-decoded.
type Arg struct {
	Name  []byte
	Value []byte
}

// Request is the parsed request of the current cycle.
type Request struct {
	Method    Method
	MethodRaw []byte
	Target    []byte // request-target exactly as received
	Path      []byte // target before '?'
	Query     []byte // raw query, without the '?'
	Version   Version
	Fields    []Field

	ContentLength    uint64
	HasContentLength bool
	Chunked          bool
	ExpectContinue   bool
	HasUpgrade       bool
	UpgradeValue     []byte
}

// HeaderValue returns the first field with the given name,
// case-insensitively.
func (r *Request) HeaderValue(name string) ([]byte, bool) {
	for i := range r.Fields {
		if equalFold(r.Fields[i].Name, []byte(name)) {
			return r.Fields[i].Value, true
		}
	}
	return nil, false
}

// GetArgs parses the query string into decoded name/value pairs. The
// decode happens in place over dst ('+' becomes a space), so callers
// hand in a scratch copy when the raw query must survive.
func GetArgs(query []byte, dst []Arg) []Arg {
	for len(query) > 0 {
		var pair []byte
		if i := bytes.IndexByte(query, '&'); i >= 0 {
			pair, query = query[:i], query[i+1:]
		} else {
			pair, query = query, nil
		}
		if len(pair) == 0 {
			continue
		}
		var name, value []byte
		if i := bytes.IndexByte(pair, '='); i >= 0 {
			name, value = pair[:i], pair[i+1:]
		} else {
			name = pair
		}
		dst = append(dst, Arg{Name: decodeFormComponent(name), Value: decodeFormComponent(value)})
	}
	return dst
}

func decodeFormComponent(b []byte) []byte {
	for i := range b {
		if b[i] == '+' {
			b[i] = ' '
		}
	}
	return percentDecode(b)
}

// parseRequestLine fills req from one request line. Returns 0 on success
// or the status code of the rejection.
func parseRequestLine(line []byte, strict Strictness, req *Request) uint16 {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return StatusBadRequest
	}
	methodRaw := line[:sp1]
	rest := line[sp1+1:]
	if strict == StrictnessLoose {
		for len(rest) > 0 && rest[0] == ' ' {
			rest = rest[1:]
		}
	}
	sp2 := bytes.LastIndexByte(rest, ' ')
	if sp2 <= 0 {
		return StatusBadRequest
	}
	target := rest[:sp2]
	version := rest[sp2+1:]
	if strict == StrictnessLoose {
		target = trimOWS(target)
	} else if bytes.IndexByte(target, ' ') >= 0 {
		return StatusBadRequest
	}
	if len(target) == 0 {
		return StatusBadRequest
	}

	for _, c := range methodRaw {
		if !isTokenChar(c) {
			return StatusBadRequest
		}
	}
	req.MethodRaw = methodRaw
	req.Method = lookupMethod(methodRaw)
	if req.Method == MethodOther && strict != StrictnessLoose {
		return StatusNotImplemented
	}

	switch {
	case bytes.Equal(version, []byte("HTTP/1.1")):
		req.Version = Version11
	case bytes.Equal(version, []byte("HTTP/1.0")):
		req.Version = Version10
	default:
		return StatusHTTPVersionNotSupported
	}

	req.Target = target
	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.Path = target[:q]
		req.Query = target[q+1:]
	} else {
		req.Path = target
		req.Query = nil
	}
	return 0
}

// parseFieldLine splits one header/footer line into name and value.
// Returns ok=false for a malformed line.
func parseFieldLine(line []byte) (name, value []byte, ok bool) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return nil, nil, false
	}
	name = line[:colon]
	for _, c := range name {
		if !isTokenChar(c) {
			return nil, nil, false
		}
	}
	value = trimOWS(line[colon+1:])
	return name, value, true
}
