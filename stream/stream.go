package stream

import (
	"bytes"

	"github.com/Karlson2k/libmicrohttpd-sub001/mempool"
)

// Note is what Step asks the daemon to do next. The daemon keeps calling
// Step and dispatching notes until NoteNone, then waits per Interest.
type Note uint8

const (
	NoteNone        Note = iota // wait for readiness per Interest
	NoteCallHandler             // headers processed: invoke the request callback
	NoteUploadChunk             // BodyChunk() has bytes for the upload callback
	NoteUploadDone              // request complete: final upload callback
	NoteReplyDone               // full reply sent: decide keep-alive vs close
	NoteUpgraded                // 101 flushed: hand the connection over
	NoteClosed                  // stream is dead: start connection teardown
)

// GrowFunc asks the large-buffer accountant for extra bytes beyond the
// connection pool. It returns false when the daemon-wide budget is spent.
type GrowFunc func(extra int) bool

const (
	defaultReadChunk = 2048
	sendScratchSize  = 8 * 1024
	// Room kept for "<hex-size>\r\n" ... "\r\n" chunk framing.
	chunkOverhead = 12
)

var continue100 = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// Stream is the HTTP/1 parsing and serialization state of one
// connection. All methods are single-goroutine; the owning daemon
// serializes access.
type Stream struct {
	pool   *mempool.Pool
	strict Strictness
	State  State

	rbuf          []byte
	rParse        int // start of unparsed input
	rEnd          int // end of valid input
	headerEnd     int // input before this offset must not move (parsed fields alias it)
	growHook      GrowFunc
	largeBytes    int
	bufFull       bool
	remoteClosed  bool
	lastLineHadCR bool

	Request Request
	Reply   *Reply

	KeepAlive      KeepAliveState
	DiscardRequest bool
	StopWithError  bool
	ErrStatus      uint16

	uploadWanted    bool
	suspended       bool
	handlerDone     bool
	finalUpload     bool
	http10KeepAlive bool

	hasBody  bool
	bodyLeft uint64
	chunk    chunkedDecoder
	bodySpan []byte

	// folding bookkeeping (loose mode only)
	lastValStart int
	lastValEnd   int

	cont100Due  bool
	cont100Sent bool
	cont100Off  int

	wbuf         []byte
	wSend        int
	bodyPos      uint64
	suppressBody bool
	useChunked   bool
	readerDone   bool
	trailerDone  bool
	scratch      []byte
}

// New creates a stream over the connection's memory pool. growHook may
// be nil when oversized request buffers are not available.
func New(pool *mempool.Pool, strict Strictness, growHook GrowFunc) *Stream {
	return &Stream{
		pool:      pool,
		strict:    strict,
		growHook:  growHook,
		KeepAlive: ConnKeepAlive,
	}
}

// LargeBytes reports what the stream claimed from the large-buffer
// accountant, for reclaiming at close.
func (s *Stream) LargeBytes() int { return s.largeBytes }

// Interest derives the event-loop interest from the current state.
func (s *Stream) Interest() Interest {
	if s.suspended {
		return InterestProcess
	}
	switch s.State {
	case StateClosed:
		return InterestCleanup
	case StateInit, StateReqLineReceiving, StateReqHeadersReceiving,
		StateBodyReceiving, StateFootersReceiving:
		return InterestRecvOnly
	case StateContinueSending, StateHeadersSending, StateUpgradeHeadersSending,
		StateUnchunkedBodyReady, StateChunkedBodyReady,
		StateChunkedBodySent, StateFootersSending:
		return InterestSendOnly
	}
	return InterestProcess
}

// RecvTarget returns the free region to receive into, reclaiming
// consumed body bytes and growing the buffer when needed. nil means the
// buffer cannot grow further; Step turns that into the right 4xx.
func (s *Stream) RecvTarget() []byte {
	if s.rbuf == nil {
		want := defaultReadChunk
		if free := s.pool.Free() / 2; free < want {
			want = free
		}
		if want > 0 {
			s.rbuf = s.pool.Alloc(want)
		}
		if s.rbuf == nil {
			s.bufFull = true
			return nil
		}
	}
	if s.rEnd == len(s.rbuf) {
		// Reclaim the consumed body region first. Bytes before headerEnd
		// hold parsed fields and never move.
		if s.rParse > s.headerEnd && s.bodySpan == nil {
			n := copy(s.rbuf[s.headerEnd:], s.rbuf[s.rParse:s.rEnd])
			s.rParse = s.headerEnd
			s.rEnd = s.headerEnd + n
		}
		if s.rEnd == len(s.rbuf) && !s.grow(defaultReadChunk) {
			s.bufFull = true
			return nil
		}
	}
	return s.rbuf[s.rEnd:]
}

func (s *Stream) grow(extra int) bool {
	if g := s.pool.GrowLast(s.rbuf, extra); g != nil {
		s.rbuf = g
		return true
	}
	if step := s.pool.Free(); step > 0 {
		if g := s.pool.GrowLast(s.rbuf, step); g != nil {
			s.rbuf = g
			return true
		}
	}
	if s.growHook == nil || !s.growHook(extra) {
		return false
	}
	bigger := make([]byte, len(s.rbuf)+extra)
	copy(bigger, s.rbuf[:s.rEnd])
	s.rbuf = bigger
	s.largeBytes += extra
	return true
}

// Received records n bytes appended by the daemon's recv.
func (s *Stream) Received(n int) {
	s.rEnd += n
}

// RemoteClosed tells the stream the peer shut its write side down. The
// buffered input keeps parsing; a request cut short closes the stream.
func (s *Stream) RemoteClosed() {
	s.remoteClosed = true
}

// ResidualInput hands out buffered-but-unparsed bytes for the upgrade
// handoff. The slice aliases the pool buffer, no copy.
func (s *Stream) ResidualInput() []byte {
	if s.rbuf == nil {
		return nil
	}
	return s.rbuf[s.rParse:s.rEnd]
}

// CloseWithError abandons the stream without attempting a reply. status
// is remembered for logging.
func (s *Stream) CloseWithError(status uint16) {
	s.ErrStatus = status
	s.StopWithError = true
	s.State = StateClosed
}

// --- application actions, set by the daemon between Step calls ---

// QueueReply attaches the response. Valid once per cycle.
func (s *Stream) QueueReply(r *Reply) {
	s.Reply = r
	s.handlerDone = true
	if s.hasBody && !s.uploadWanted {
		// Response chosen before the body was read: drain and discard.
		s.DiscardRequest = true
	}
}

// RequestUpload routes body bytes to the application before answering.
func (s *Stream) RequestUpload() {
	s.uploadWanted = true
	s.handlerDone = true
}

// Suspend parks the stream until Resume.
func (s *Stream) Suspend() {
	s.suspended = true
	s.handlerDone = true
}

// Resume unparks a suspended stream. Cross-goroutine synchronization is
// the daemon's job.
func (s *Stream) Resume() { s.suspended = false }

// Suspended reports whether the stream is parked.
func (s *Stream) Suspended() bool { return s.suspended }

// BodyReady reports that a previously unready reply body can produce
// bytes again.
func (s *Stream) BodyReady() {
	switch s.State {
	case StateUnchunkedBodyUnready:
		s.State = StateUnchunkedBodyReady
	case StateChunkedBodyUnready:
		s.State = StateChunkedBodyReady
	}
}

// BodyChunk returns the decoded body bytes awaiting the upload callback.
func (s *Stream) BodyChunk() []byte { return s.bodySpan }

// BodyConsumed marks the pending chunk as fully processed.
func (s *Stream) BodyConsumed() { s.bodySpan = nil }

// --- the state machine driver ---

// Step advances the stream as far as possible without I/O and without
// application input, then reports what it needs.
func (s *Stream) Step() Note {
	if s.suspended {
		return NoteNone
	}
	for {
		switch s.State {
		case StateInit:
			s.skipEmptyLines()
			s.headerEnd = s.rParse
			if s.rParse == s.rEnd {
				if s.remoteClosed {
					s.State = StateClosed
					return NoteClosed
				}
				return NoteNone
			}
			s.State = StateReqLineReceiving

		case StateReqLineReceiving:
			line, ok := s.takeLine()
			if !ok {
				note, stop := s.needMore(StatusRequestURITooLong)
				if stop {
					return note
				}
				continue
			}
			if s.strict == StrictnessStrict && !s.lastLineHadCR {
				s.rejectRequest(StatusBadRequest)
				continue
			}
			if code := parseRequestLine(line, s.strict, &s.Request); code != 0 {
				s.rejectRequest(code)
				continue
			}
			s.headerEnd = s.rParse
			s.State = StateReqLineReceived

		case StateReqLineReceived:
			s.State = StateReqHeadersReceiving

		case StateReqHeadersReceiving:
			done, code := s.parseFields()
			if code != 0 {
				s.rejectRequest(code)
				continue
			}
			if !done {
				note, stop := s.needMore(StatusRequestHeaderFieldsTooLarge)
				if stop {
					return note
				}
				continue
			}
			s.State = StateHeadersReceived

		case StateHeadersReceived:
			if code := s.processHeaders(); code != 0 {
				s.rejectRequest(code)
				continue
			}
			s.headerEnd = s.rParse
			s.State = StateHeadersProcessed
			return NoteCallHandler

		case StateHeadersProcessed:
			if !s.handlerDone {
				return NoteNone // application still deciding
			}
			if !s.hasBody {
				s.State = StateFullReqReceived
				continue
			}
			if s.cont100Due && s.uploadWanted && !s.cont100Sent {
				s.State = StateContinueSending
				return NoteNone
			}
			s.State = StateBodyReceiving

		case StateContinueSending:
			if s.cont100Off < len(continue100) {
				return NoteNone // the send side drains it
			}
			s.cont100Sent = true
			s.State = StateBodyReceiving

		case StateBodyReceiving:
			if s.bodySpan != nil {
				return NoteUploadChunk
			}
			note, progressed := s.stepBody()
			if note != NoteNone {
				return note
			}
			if s.State != StateBodyReceiving {
				continue
			}
			if progressed {
				continue
			}
			if s.remoteClosed && s.rParse == s.rEnd {
				s.CloseWithError(StatusBadRequest)
				return NoteClosed
			}
			if s.bufFull {
				s.rejectRequest(StatusRequestEntityTooLarge)
				continue
			}
			return NoteNone

		case StateBodyReceived:
			if s.Request.Chunked {
				s.headerEnd = s.rParse
				s.State = StateFootersReceiving
			} else {
				s.State = StateFullReqReceived
			}

		case StateFootersReceiving:
			done, code := s.parseFields()
			if code != 0 {
				s.rejectRequest(code)
				continue
			}
			if !done {
				note, stop := s.needMore(StatusRequestHeaderFieldsTooLarge)
				if stop {
					return note
				}
				continue
			}
			s.State = StateFootersReceived

		case StateFootersReceived:
			s.State = StateFullReqReceived

		case StateFullReqReceived:
			if s.uploadWanted && !s.finalUpload {
				s.finalUpload = true
				return NoteUploadDone
			}
			s.State = StateReqRecvFinished

		case StateReqRecvFinished:
			if s.Reply == nil {
				return NoteNone // waiting for the application to answer
			}
			s.State = StateStartReply

		case StateStartReply:
			s.serializeHeaders()
			if s.Reply.UpgradeProto != nil {
				s.State = StateUpgradeHeadersSending
			} else {
				s.State = StateHeadersSending
			}
			return NoteNone

		case StateHeadersSending:
			if s.wSend < len(s.wbuf) {
				return NoteNone
			}
			s.State = StateHeadersSent

		case StateUpgradeHeadersSending:
			if s.wSend < len(s.wbuf) {
				return NoteNone
			}
			s.State = StateUpgrading
			return NoteUpgraded

		case StateHeadersSent:
			s.enterBodySending()

		case StateUnchunkedBodyReady, StateChunkedBodyReady:
			if s.sendPending() {
				return NoteNone
			}
			if note := s.fillReplyBody(); note != NoteNone {
				return note
			}
			if s.State == StateUnchunkedBodyReady || s.State == StateChunkedBodyReady {
				if s.sendPending() {
					return NoteNone
				}
				continue
			}

		case StateUnchunkedBodyUnready, StateChunkedBodyUnready:
			return NoteNone // waiting for BodyReady

		case StateChunkedBodySent:
			s.State = StateFootersSending

		case StateFootersSending:
			if s.sendPending() {
				return NoteNone
			}
			s.State = StateFullReplySent

		case StateFullReplySent:
			return NoteReplyDone

		case StateUpgrading:
			return NoteNone

		case StateClosed:
			return NoteClosed
		}
	}
}

func (s *Stream) skipEmptyLines() {
	for s.rParse < s.rEnd {
		switch s.rbuf[s.rParse] {
		case '\r':
			if s.rParse+1 < s.rEnd && s.rbuf[s.rParse+1] == '\n' {
				s.rParse += 2
				continue
			}
			return
		case '\n':
			s.rParse++
			continue
		}
		return
	}
}

// takeLine extracts one LF-terminated line. CR without LF does not
// terminate; lastLineHadCR records CRLF vs bare LF for strictness.
func (s *Stream) takeLine() ([]byte, bool) {
	idx := bytes.IndexByte(s.rbuf[s.rParse:s.rEnd], '\n')
	if idx < 0 {
		return nil, false
	}
	line := s.rbuf[s.rParse : s.rParse+idx]
	s.rParse += idx + 1
	s.lastLineHadCR = false
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
		s.lastLineHadCR = true
	}
	return line, true
}

// needMore decides between waiting for input and giving up: a full
// buffer becomes the given 4xx, a half-request from a closed peer kills
// the stream, otherwise Step should return and wait.
func (s *Stream) needMore(fullStatus uint16) (Note, bool) {
	if s.bufFull {
		s.rejectRequest(fullStatus)
		return NoteNone, false
	}
	if s.remoteClosed && s.rParse == s.rEnd {
		s.State = StateClosed
		return NoteClosed, true
	}
	return NoteNone, true
}

// rejectRequest short-circuits into an error reply and marks the
// connection unusable afterwards.
func (s *Stream) rejectRequest(code uint16) {
	s.StopWithError = true
	s.ErrStatus = code
	s.KeepAlive = ConnMayClose
	s.handlerDone = true
	s.uploadWanted = false
	s.hasBody = false
	s.bodySpan = nil
	s.Reply = NewReply(code).WithBuffer([]byte(StatusText(code)))
	s.Reply.ForceClose = true
	s.State = StateStartReply
}

// parseFields consumes header/footer lines until the empty line. Used
// for both headers and footers; parsed fields land in Request.Fields.
func (s *Stream) parseFields() (done bool, code uint16) {
	for {
		lineStart := s.rParse
		line, ok := s.takeLine()
		if !ok {
			return false, 0
		}
		if len(line) == 0 {
			s.headerEnd = s.rParse
			return true, 0
		}
		if s.strict == StrictnessStrict && !s.lastLineHadCR {
			return false, StatusBadRequest
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding: rejected unless loosest, where the
			// continuation extends the previous value in place (the gap
			// between them is blanked to spaces).
			if s.strict != StrictnessLoose || len(s.Request.Fields) == 0 {
				return false, StatusBadRequest
			}
			lead := 0
			for lead < len(line) && (line[lead] == ' ' || line[lead] == '\t') {
				lead++
			}
			cont := trimOWS(line)
			if len(cont) == 0 {
				s.headerEnd = s.rParse
				continue
			}
			contStart := lineStart + lead
			contEnd := contStart + len(cont)
			for i := s.lastValEnd; i < contStart; i++ {
				s.rbuf[i] = ' '
			}
			s.lastValEnd = contEnd
			last := &s.Request.Fields[len(s.Request.Fields)-1]
			last.Value = s.rbuf[s.lastValStart:s.lastValEnd]
			s.headerEnd = s.rParse
			continue
		}
		name, value, ok := parseFieldLine(line)
		if !ok {
			return false, StatusBadRequest
		}
		// Offsets for potential folding of the next line.
		if len(value) > 0 {
			s.lastValStart = lineStart + (cap(line) - cap(value))
		} else {
			s.lastValStart = lineStart + len(line)
		}
		s.lastValEnd = s.lastValStart + len(value)
		s.Request.Fields = append(s.Request.Fields, Field{Name: name, Value: value})
		s.headerEnd = s.rParse
	}
}

// processHeaders applies field semantics after the terminating blank
// line: body framing, connection persistence, expectations, upgrades.
func (s *Stream) processHeaders() (code uint16) {
	req := &s.Request
	sawCL := false
	for i := range req.Fields {
		f := &req.Fields[i]
		switch {
		case equalFold(f.Name, []byte("Content-Length")):
			if sawCL {
				return StatusBadRequest // duplicate Content-Length
			}
			sawCL = true
			n, ok := atoiBytes(f.Value)
			if !ok {
				return StatusBadRequest
			}
			req.ContentLength = n
			req.HasContentLength = true
		case equalFold(f.Name, []byte("Transfer-Encoding")):
			if !equalFold(trimOWS(f.Value), []byte("chunked")) {
				return StatusNotImplemented
			}
			req.Chunked = true
		case equalFold(f.Name, []byte("Connection")):
			s.applyConnectionTokens(f.Value)
		case equalFold(f.Name, []byte("Expect")):
			if !equalFold(f.Value, []byte("100-continue")) {
				return StatusExpectationFailed
			}
			if req.Version == Version11 {
				req.ExpectContinue = true
			}
		case equalFold(f.Name, []byte("Upgrade")):
			req.HasUpgrade = true
			req.UpgradeValue = f.Value
		}
	}
	if req.Chunked && req.HasContentLength {
		// Chunked takes precedence, but the combination is a smuggling
		// vector and is refused outside loose mode.
		if s.strict != StrictnessLoose {
			return StatusBadRequest
		}
		req.HasContentLength = false
		req.ContentLength = 0
	}
	if req.Chunked {
		s.hasBody = true
		s.chunk.reset()
	} else if req.HasContentLength && req.ContentLength > 0 {
		s.hasBody = true
		s.bodyLeft = req.ContentLength
	}
	if req.Version == Version10 && s.KeepAlive == ConnKeepAlive && !s.http10KeepAlive {
		s.KeepAlive = ConnMayClose
	}
	s.cont100Due = req.ExpectContinue
	return 0
}

func (s *Stream) applyConnectionTokens(v []byte) {
	for len(v) > 0 {
		var tok []byte
		if i := bytes.IndexByte(v, ','); i >= 0 {
			tok, v = trimOWS(v[:i]), v[i+1:]
		} else {
			tok, v = trimOWS(v), nil
		}
		switch {
		case equalFold(tok, []byte("close")):
			s.KeepAlive = ConnMayClose
		case equalFold(tok, []byte("keep-alive")):
			s.http10KeepAlive = true
		}
	}
}

// stepBody moves request body bytes toward the upload callback, or the
// bit bucket when the request is being discarded.
func (s *Stream) stepBody() (Note, bool) {
	avail := s.rbuf[s.rParse:s.rEnd]
	if s.Request.Chunked {
		consumed, span, bad := s.chunk.step(avail)
		s.rParse += consumed
		if bad {
			s.CloseWithError(StatusBadRequest)
			return NoteClosed, true
		}
		if span != nil {
			if s.DiscardRequest {
				return NoteNone, true
			}
			s.bodySpan = span
			return NoteUploadChunk, true
		}
		if s.chunk.phase == chunkDone {
			s.State = StateBodyReceived
			return NoteNone, true
		}
		return NoteNone, consumed > 0
	}

	if s.bodyLeft == 0 {
		s.State = StateBodyReceived
		return NoteNone, true
	}
	if len(avail) == 0 {
		return NoteNone, false
	}
	n := uint64(len(avail))
	if n > s.bodyLeft {
		n = s.bodyLeft
	}
	span := avail[:n]
	s.rParse += int(n)
	s.bodyLeft -= n
	if s.bodyLeft == 0 {
		s.State = StateBodyReceived
	}
	if s.DiscardRequest {
		return NoteNone, true
	}
	s.bodySpan = span
	return NoteUploadChunk, true
}

// --- send side ---

func (s *Stream) sendPending() bool {
	if s.State == StateContinueSending {
		return s.cont100Off < len(continue100)
	}
	if s.wSend < len(s.wbuf) {
		return true
	}
	return s.replyBodySendPending()
}

func (s *Stream) replyBodySendPending() bool {
	r := s.Reply
	if r == nil || s.suppressBody {
		return false
	}
	if s.State != StateUnchunkedBodyReady {
		return false
	}
	switch r.Body {
	case BodyBuffer:
		return s.bodyPos < uint64(len(r.Buffer))
	case BodyIovec:
		return r.iovSent < len(r.Iovec)
	case BodyFD:
		return r.UseSF && s.bodyPos < uint64(r.FDSize)
	}
	return false
}

// PendingSend reports whether the stream has bytes for the socket.
func (s *Stream) PendingSend() bool { return s.sendPending() }

// SendfileOp describes a due sendfile transfer.
type SendfileOp struct {
	FD    int
	Off   int64
	Count int
}

// SendPieces assembles what should go on the wire now. push is true when
// these bytes finish everything the stream currently has to say.
func (s *Stream) SendPieces() (pieces [][]byte, push bool, sf *SendfileOp) {
	if s.State == StateContinueSending {
		return [][]byte{continue100[s.cont100Off:]}, true, nil
	}
	if s.wSend < len(s.wbuf) {
		pieces = append(pieces, s.wbuf[s.wSend:])
	}
	r := s.Reply
	if r == nil || s.State != StateUnchunkedBodyReady || s.suppressBody {
		return pieces, true, nil
	}
	switch r.Body {
	case BodyBuffer:
		if s.bodyPos < uint64(len(r.Buffer)) {
			pieces = append(pieces, r.Buffer[s.bodyPos:])
		}
	case BodyIovec:
		for i := r.iovSent; i < len(r.Iovec); i++ {
			pieces = append(pieces, r.Iovec[i])
		}
	case BodyFD:
		if r.UseSF {
			if len(pieces) > 0 {
				// Flush buffered headers before switching to sendfile.
				return pieces, false, nil
			}
			left := uint64(r.FDSize) - s.bodyPos
			return nil, true, &SendfileOp{
				FD:    r.FD,
				Off:   r.FDOff + int64(s.bodyPos),
				Count: int(left),
			}
		}
	}
	return pieces, true, nil
}

// Sent advances the stream over n bytes the socket actually consumed.
func (s *Stream) Sent(n int) {
	if s.State == StateContinueSending {
		s.cont100Off += n
		return
	}
	if s.wSend < len(s.wbuf) {
		take := len(s.wbuf) - s.wSend
		if take > n {
			take = n
		}
		s.wSend += take
		n -= take
	}
	if n == 0 || s.Reply == nil {
		return
	}
	r := s.Reply
	switch r.Body {
	case BodyBuffer:
		s.bodyPos += uint64(n)
	case BodyIovec:
		for n > 0 && r.iovSent < len(r.Iovec) {
			piece := r.Iovec[r.iovSent]
			if n >= len(piece) {
				n -= len(piece)
				r.iovSent++
			} else {
				r.Iovec[r.iovSent] = piece[n:]
				n = 0
			}
		}
	}
}

// SendfileSent advances the FD body position.
func (s *Stream) SendfileSent(n int) {
	s.bodyPos += uint64(n)
}

// SendfileFallback reroutes the FD body through the memory path, using
// the pread-backed Reader WithFD installed. Progress already made by
// sendfile is kept; the Reader resumes at the current body position.
func (s *Stream) SendfileFallback() {
	if s.Reply != nil {
		s.Reply.UseSF = false
	}
}

// enterBodySending picks the body-sending state after headers went out.
func (s *Stream) enterBodySending() {
	r := s.Reply
	if s.suppressBody || r.Body == BodyEmpty || r.bodyKnownEmpty() {
		s.State = StateFullReplySent
		return
	}
	if r.Body == BodyReader && s.useChunked {
		s.State = StateChunkedBodyReady
		return
	}
	s.State = StateUnchunkedBodyReady
}

// fillReplyBody pulls reader bytes into the write buffer, or detects
// completion for the fixed-body kinds.
func (s *Stream) fillReplyBody() Note {
	r := s.Reply
	switch r.Body {
	case BodyBuffer:
		if s.bodyPos >= uint64(len(r.Buffer)) {
			s.State = StateFullReplySent
		}
		return NoteNone
	case BodyIovec:
		if r.iovSent >= len(r.Iovec) {
			s.State = StateFullReplySent
		}
		return NoteNone
	case BodyFD:
		if r.UseSF {
			if s.bodyPos >= uint64(r.FDSize) {
				s.State = StateFullReplySent
			}
			return NoteNone
		}
		return s.fillFromReader()
	case BodyReader:
		return s.fillFromReader()
	}
	s.State = StateFullReplySent
	return NoteNone
}

func (s *Stream) fillFromReader() Note {
	r := s.Reply
	if s.readerDone {
		s.finishReaderBody()
		return NoteNone
	}
	if s.scratch == nil {
		s.scratch = make([]byte, sendScratchSize)
	}
	want := len(s.scratch) - chunkOverhead
	if r.HasContentLength {
		left := r.ContentLength - s.bodyPos
		if left == 0 {
			s.readerDone = true
			s.finishReaderBody()
			return NoteNone
		}
		if uint64(want) > left {
			want = int(left)
		}
	}
	n, res := r.Reader(s.bodyPos, s.scratch[:want])
	switch res {
	case ReaderError:
		s.CloseWithError(StatusInternalServerError)
		return NoteClosed
	case ReaderUnready:
		if s.useChunked {
			s.State = StateChunkedBodyUnready
		} else {
			s.State = StateUnchunkedBodyUnready
		}
		return NoteNone
	}
	if n == 0 && res == ReaderMore {
		// Producer has nothing yet but did not say so; treat as unready
		// rather than spinning.
		if s.useChunked {
			s.State = StateChunkedBodyUnready
		} else {
			s.State = StateUnchunkedBodyUnready
		}
		return NoteNone
	}
	if n > 0 {
		s.queueBodyBytes(s.scratch[:n])
		s.bodyPos += uint64(n)
	}
	if res == ReaderEnd || (r.HasContentLength && s.bodyPos >= r.ContentLength) {
		s.readerDone = true
		if s.wSend == len(s.wbuf) {
			s.finishReaderBody()
		}
	}
	return NoteNone
}

func (s *Stream) finishReaderBody() {
	if s.useChunked {
		if !s.trailerDone {
			s.wbuf = append(s.wbuf, '0', '\r', '\n', '\r', '\n')
			s.trailerDone = true
		}
		s.State = StateChunkedBodySent
		return
	}
	s.State = StateFullReplySent
}

// queueBodyBytes appends produced body bytes to the write buffer, with
// chunk framing when the reply is chunked.
func (s *Stream) queueBodyBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	if s.wSend == len(s.wbuf) {
		s.wbuf = s.wbuf[:0]
		s.wSend = 0
	}
	if s.useChunked {
		var hdr [10]byte
		n := writeHex(uint64(len(b)), hdr[:])
		s.wbuf = append(s.wbuf, hdr[:n]...)
		s.wbuf = append(s.wbuf, '\r', '\n')
		s.wbuf = append(s.wbuf, b...)
		s.wbuf = append(s.wbuf, '\r', '\n')
		return
	}
	s.wbuf = append(s.wbuf, b...)
}

// serializeHeaders materializes the reply head into the write buffer.
func (s *Stream) serializeHeaders() {
	r := s.Reply
	s.suppressBody = s.Request.Method == MethodHead || r.bodyKnownEmpty()
	s.useChunked = false
	if r.UpgradeProto == nil && r.Body == BodyReader && !r.HasContentLength {
		if s.Request.Version == Version11 {
			s.useChunked = true
		} else {
			r.ForceClose = true // close-delimited body for HTTP/1.0
		}
	}
	if r.ForceClose {
		s.KeepAlive = ConnMayClose
	}
	if r.UpgradeProto != nil {
		s.KeepAlive = ConnMustUpgrade
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "HTTP/1.1 "...)
	var num [8]byte
	n := writeUint(uint64(r.Status), num[:])
	buf = append(buf, num[:n]...)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(r.Status)...)
	buf = append(buf, '\r', '\n')

	for i := range r.Fields {
		buf = append(buf, r.Fields[i].Name...)
		buf = append(buf, ':', ' ')
		buf = append(buf, r.Fields[i].Value...)
		buf = append(buf, '\r', '\n')
	}

	switch {
	case r.UpgradeProto != nil:
		buf = append(buf, "Upgrade: "...)
		buf = append(buf, r.UpgradeProto...)
		buf = append(buf, "\r\nConnection: upgrade\r\n"...)
	case s.useChunked:
		buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
	case r.HasContentLength && !r.bodyKnownEmpty():
		buf = append(buf, "Content-Length: "...)
		var cl [20]byte
		n = writeUint(r.ContentLength, cl[:])
		buf = append(buf, cl[:n]...)
		buf = append(buf, '\r', '\n')
	}
	if r.UpgradeProto == nil {
		if s.KeepAlive == ConnKeepAlive {
			buf = append(buf, "Connection: keep-alive\r\n"...)
		} else {
			buf = append(buf, "Connection: close\r\n"...)
		}
	}
	buf = append(buf, '\r', '\n')
	s.wbuf = buf
	s.wSend = 0
}

// KeepAliveNow reports whether the connection survives this cycle.
func (s *Stream) KeepAliveNow() bool {
	if s.StopWithError || s.remoteClosed {
		return false
	}
	return s.KeepAlive == ConnKeepAlive
}

// ResetForNext rewinds the stream for the next request on a kept-alive
// connection. Unparsed pipelined input survives the pool reset. The
// return value is the large-buffer claim released by the reset, for the
// owner to hand back to its accountant.
func (s *Stream) ResetForNext() int {
	released := s.largeBytes
	var leftover []byte
	if s.rEnd > s.rParse {
		leftover = append(leftover, s.rbuf[s.rParse:s.rEnd]...)
	}
	s.pool.Reset()
	rc := s.remoteClosed
	scratch := s.scratch
	*s = Stream{
		pool:      s.pool,
		strict:    s.strict,
		growHook:  s.growHook,
		KeepAlive: ConnKeepAlive,
		scratch:   scratch,
	}
	s.remoteClosed = rc
	if len(leftover) > 0 {
		want := len(leftover)
		if want < defaultReadChunk {
			want = defaultReadChunk
		}
		if free := s.pool.Free() / 2; free < want {
			want = free
		}
		if want >= len(leftover) {
			s.rbuf = s.pool.Alloc(want)
		}
		if s.rbuf == nil {
			// Pool too small for the pipelined remainder.
			s.CloseWithError(StatusInternalServerError)
			return released
		}
		copy(s.rbuf, leftover)
		s.rEnd = len(leftover)
	}
	return released
}
