package stream

import "golang.org/x/sys/unix"

// BodyKind selects where reply body bytes come from.
type BodyKind uint8

const (
	BodyEmpty BodyKind = iota
	BodyBuffer
	BodyReader
	BodyFD
	BodyIovec
)

// ReaderResult is returned by a pull callback together with the number
// of bytes produced.
type ReaderResult int8

const (
	ReaderMore    ReaderResult = iota // bytes produced, call again
	ReaderEnd                         // body complete
	ReaderUnready                     // nothing yet; suspend until resumed
	ReaderError                       // abort the connection
)

// ReaderFunc pulls reply body bytes. pos is the absolute body offset.
type ReaderFunc func(pos uint64, buf []byte) (int, ReaderResult)

// Reply describes the response to serialize. Construct with NewReply and
// one of the body setters, add extra fields, then queue it.
type Reply struct {
	Status uint16
	Fields []Field

	Body    BodyKind
	Buffer  []byte
	Reader  ReaderFunc
	FD      int
	FDOff   int64
	FDSize  int64
	UseSF   bool
	Iovec   [][]byte
	iovSent int

	ContentLength    uint64
	HasContentLength bool
	Chunked          bool
	ForceClose       bool

	// Upgrade replies carry the application-chosen token verbatim.
	UpgradeProto []byte
}

// NewReply creates an empty-bodied reply.
func NewReply(status uint16) *Reply {
	return &Reply{Status: status}
}

// WithBuffer attaches a fixed memory body.
func (r *Reply) WithBuffer(body []byte) *Reply {
	r.Body = BodyBuffer
	r.Buffer = body
	r.ContentLength = uint64(len(body))
	r.HasContentLength = true
	return r
}

// WithReader attaches a pull-callback body. size is the total length, or
// SizeUnknown for chunked / connection-delimited framing.
func (r *Reply) WithReader(reader ReaderFunc, size uint64) *Reply {
	r.Body = BodyReader
	r.Reader = reader
	if size != SizeUnknown {
		r.ContentLength = size
		r.HasContentLength = true
	}
	return r
}

// SizeUnknown marks a reader body of unknown total length.
const SizeUnknown = ^uint64(0)

// WithFD attaches a file-descriptor body, sendfile-eligible. A
// pread-backed Reader is installed alongside, so the body keeps going
// through the memory path when sendfile cannot serve the pairing.
func (r *Reply) WithFD(fd int, off int64, size int64) *Reply {
	r.Body = BodyFD
	r.FD = fd
	r.FDOff = off
	r.FDSize = size
	r.UseSF = true
	r.Reader = fdReader(fd, off)
	r.ContentLength = uint64(size)
	r.HasContentLength = true
	return r
}

// fdReader reads the descriptor with pread; the kernel file offset is
// never touched, so the same descriptor can back concurrent replies.
func fdReader(fd int, off int64) ReaderFunc {
	return func(pos uint64, buf []byte) (int, ReaderResult) {
		for {
			n, err := unix.Pread(fd, buf, off+int64(pos))
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return 0, ReaderError
			}
			if n == 0 {
				return 0, ReaderEnd
			}
			return n, ReaderMore
		}
	}
}

// WithIovec attaches a pre-built scatter list. The pieces are sent as
// given; the engine tracks partial progress across calls.
func (r *Reply) WithIovec(pieces [][]byte) *Reply {
	r.Body = BodyIovec
	r.Iovec = pieces
	var total uint64
	for _, p := range pieces {
		total += uint64(len(p))
	}
	r.ContentLength = total
	r.HasContentLength = true
	return r
}

// AddField appends an application header. Content-Length, Connection and
// Transfer-Encoding are engine-owned and ignored here.
func (r *Reply) AddField(name, value string) *Reply {
	if equalFold([]byte(name), []byte("Content-Length")) ||
		equalFold([]byte(name), []byte("Connection")) ||
		equalFold([]byte(name), []byte("Transfer-Encoding")) {
		return r
	}
	r.Fields = append(r.Fields, Field{Name: []byte(name), Value: []byte(value)})
	return r
}

// bodyKnownEmpty reports replies that must not carry a body at all.
func (r *Reply) bodyKnownEmpty() bool {
	return r.Status/100 == 1 || r.Status == StatusNoContent || r.Status == StatusNotModified
}
