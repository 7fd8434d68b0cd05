package stream

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/Karlson2k/libmicrohttpd-sub001/mempool"
)

// harness drives a stream the way the connection loop does: Step until
// NoteNone, dispatch notes, carry produced bytes into out.
type harness struct {
	s       *Stream
	out     []byte
	handler func(*Stream)
	onDone  func(*Stream)
	uploads [][]byte
}

func newHarness(strict Strictness, poolSize int, handler func(*Stream)) *harness {
	return &harness{
		s:       New(mempool.New(poolSize), strict, nil),
		handler: handler,
	}
}

func (h *harness) drainSend() {
	for {
		pieces, _, sf := h.s.SendPieces()
		if sf != nil {
			return
		}
		total := 0
		for _, p := range pieces {
			h.out = append(h.out, p...)
			total += len(p)
		}
		if total == 0 {
			return
		}
		h.s.Sent(total)
	}
}

func (h *harness) drive(t *testing.T) Note {
	t.Helper()
	for i := 0; i < 10000; i++ {
		note := h.s.Step()
		switch note {
		case NoteCallHandler:
			h.handler(h.s)
		case NoteUploadChunk:
			h.uploads = append(h.uploads, append([]byte(nil), h.s.BodyChunk()...))
			h.s.BodyConsumed()
		case NoteUploadDone:
			h.uploads = append(h.uploads, []byte{})
			if h.onDone != nil {
				h.onDone(h.s)
			} else {
				h.s.QueueReply(NewReply(StatusOK).WithBuffer([]byte("done")))
			}
		case NoteReplyDone, NoteUpgraded, NoteClosed:
			return note
		case NoteNone:
			if h.s.PendingSend() {
				h.drainSend()
				continue
			}
			return NoteNone
		}
	}
	t.Fatal("stream did not settle")
	return NoteNone
}

func (h *harness) feed(t *testing.T, input string) Note {
	t.Helper()
	rem := []byte(input)
	for {
		note := h.drive(t)
		if note != NoteNone {
			return note
		}
		if len(rem) == 0 {
			return NoteNone
		}
		dst := h.s.RecvTarget()
		if dst == nil {
			continue // buffer exhausted; the next drive rejects the request
		}
		n := copy(dst, rem)
		h.s.Received(n)
		rem = rem[n:]
	}
}

func (h *harness) outString() string { return string(h.out) }

func replyText(body string) func(*Stream) {
	return func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithBuffer([]byte(body)))
	}
}

func TestSimpleGetKeepAlive(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("hi"))
	note := h.feed(t, "GET /hi?a=1 HTTP/1.1\r\nHost: x\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v, want NoteReplyDone", note)
	}
	out := h.outString()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("bad status line in %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Errorf("missing Content-Length in %q", out)
	}
	if !strings.Contains(out, "Connection: keep-alive\r\n") {
		t.Errorf("missing keep-alive in %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhi") {
		t.Errorf("body not at end of %q", out)
	}
	if !h.s.KeepAliveNow() {
		t.Error("connection should stay alive")
	}
	if string(h.s.Request.Path) != "/hi" || string(h.s.Request.Query) != "a=1" {
		t.Errorf("path/query = %q/%q", h.s.Request.Path, h.s.Request.Query)
	}
}

func TestHTTP10DefaultsToClose(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "GET / HTTP/1.0\r\n\r\n")
	if h.s.KeepAliveNow() {
		t.Error("HTTP/1.0 without keep-alive must close")
	}
	if !strings.Contains(h.outString(), "Connection: close\r\n") {
		t.Errorf("missing close header in %q", h.outString())
	}
}

func TestHTTP10ExplicitKeepAlive(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if !h.s.KeepAliveNow() {
		t.Error("HTTP/1.0 with keep-alive token should persist")
	}
}

func TestConnectionCloseRequested(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	if h.s.KeepAliveNow() {
		t.Error("Connection: close must not keep alive")
	}
}

func TestHeadSuppressesBody(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("hi"))
	h.feed(t, "HEAD / HTTP/1.1\r\n\r\n")
	out := h.outString()
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Errorf("HEAD must still carry Content-Length: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Errorf("HEAD reply must end after headers: %q", out)
	}
}

func TestMalformedRequestLine(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	note := h.feed(t, "GET\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 400 ") {
		t.Errorf("want 400, got %q", h.outString())
	}
	if h.s.KeepAliveNow() {
		t.Error("rejected request must close")
	}
}

func TestUnknownMethodByStrictness(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "BREW /pot HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 501 ") {
		t.Errorf("default strictness: want 501, got %q", h.outString())
	}

	var gotMethod Method
	h = newHarness(StrictnessLoose, 16*1024, func(s *Stream) {
		gotMethod = s.Request.Method
		s.QueueReply(NewReply(StatusOK).WithBuffer([]byte("x")))
	})
	h.feed(t, "BREW /pot HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 200 ") {
		t.Errorf("loose strictness: want 200, got %q", h.outString())
	}
	if gotMethod != MethodOther {
		t.Errorf("method = %v, want MethodOther", gotMethod)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "GET / HTTP/2.0\r\n\r\n")
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 505 ") {
		t.Errorf("want 505, got %q", h.outString())
	}
}

func TestContentLengthUpload(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.RequestUpload()
	})
	note := h.feed(t, "POST /u HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	var got []byte
	for _, u := range h.uploads {
		got = append(got, u...)
	}
	if string(got) != "hello world" {
		t.Errorf("uploaded %q", got)
	}
	if len(h.uploads) == 0 || len(h.uploads[len(h.uploads)-1]) != 0 {
		t.Error("missing final zero-length upload call")
	}
}

func TestBodyDiscardedWhenAnsweredEarly(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("no thanks"))
	note := h.feed(t, "POST /u HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if len(h.uploads) != 0 {
		t.Errorf("discarded body must not reach the upload callback: %q", h.uploads)
	}
	if !h.s.KeepAliveNow() {
		t.Error("fully drained request should keep the connection")
	}
}

func TestExpectContinue(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.RequestUpload()
	})
	note := h.feed(t, "POST /u HTTP/1.1\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")
	if note != NoteNone {
		t.Fatalf("note = %v, want NoteNone while waiting for body", note)
	}
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 100 Continue\r\n\r\n") {
		t.Fatalf("interim reply missing: %q", h.outString())
	}
	note = h.feed(t, "hello")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if len(h.uploads) < 1 || string(h.uploads[0]) != "hello" {
		t.Errorf("uploads = %q", h.uploads)
	}
}

func TestChunkedUploadWithTrailer(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.RequestUpload()
	})
	note := h.feed(t, "POST /u HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\nX-Trail: v\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	var got []byte
	for _, u := range h.uploads {
		got = append(got, u...)
	}
	if string(got) != "Wikipedia" {
		t.Errorf("uploaded %q", got)
	}
	v, ok := h.s.Request.HeaderValue("X-Trail")
	if !ok || string(v) != "v" {
		t.Errorf("trailer field = %q, %v", v, ok)
	}
}

func TestChunkedReply(t *testing.T) {
	parts := []string{"hello ", "world"}
	i := 0
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithReader(func(pos uint64, buf []byte) (int, ReaderResult) {
			if i >= len(parts) {
				return 0, ReaderEnd
			}
			n := copy(buf, parts[i])
			i++
			return n, ReaderMore
		}, SizeUnknown))
	})
	note := h.feed(t, "GET / HTTP/1.1\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	out := h.outString()
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("missing chunked framing header: %q", out)
	}
	if !strings.Contains(out, "6\r\nhello \r\n") || !strings.Contains(out, "5\r\nworld\r\n") {
		t.Errorf("chunk framing wrong: %q", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Errorf("missing terminating chunk: %q", out)
	}
}

func TestReaderWithKnownLength(t *testing.T) {
	body := "0123456789"
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithReader(func(pos uint64, buf []byte) (int, ReaderResult) {
			n := copy(buf, body[pos:])
			return n, ReaderMore
		}, uint64(len(body))))
	})
	h.feed(t, "GET / HTTP/1.1\r\n\r\n")
	out := h.outString()
	if !strings.Contains(out, "Content-Length: 10\r\n") {
		t.Errorf("want length-framed body: %q", out)
	}
	if strings.Contains(out, "chunked") {
		t.Errorf("must not chunk a sized body: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n"+body) {
		t.Errorf("body wrong: %q", out)
	}
}

func TestUnreadyBodyResumes(t *testing.T) {
	ready := false
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithReader(func(pos uint64, buf []byte) (int, ReaderResult) {
			if !ready {
				return 0, ReaderUnready
			}
			return copy(buf, "late"), ReaderEnd
		}, 4))
	})
	note := h.feed(t, "GET / HTTP/1.1\r\n\r\n")
	if note != NoteNone {
		t.Fatalf("note = %v, want NoteNone while body unready", note)
	}
	if h.s.State != StateUnchunkedBodyUnready {
		t.Fatalf("state = %v", h.s.State)
	}
	ready = true
	h.s.BodyReady()
	if note = h.drive(t); note != NoteReplyDone {
		t.Fatalf("note = %v after BodyReady", note)
	}
	if !strings.HasSuffix(h.outString(), "late") {
		t.Errorf("body missing: %q", h.outString())
	}
}

func TestIovecBody(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithIovec([][]byte{
			[]byte("one"), []byte("two"), []byte("three"),
		}))
	})
	h.feed(t, "GET / HTTP/1.1\r\n\r\n")
	out := h.outString()
	if !strings.Contains(out, "Content-Length: 11\r\n") || !strings.HasSuffix(out, "onetwothree") {
		t.Errorf("iovec reply wrong: %q", out)
	}
}

func TestPipelinedRequests(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("a"))
	note := h.feed(t, "GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("first note = %v", note)
	}
	if len(h.s.ResidualInput()) == 0 {
		t.Fatal("second request should be buffered")
	}
	h.s.ResetForNext()
	h.out = nil
	if note = h.drive(t); note != NoteReplyDone {
		t.Fatalf("second note = %v", note)
	}
	if string(h.s.Request.Path) != "/2" {
		t.Errorf("second path = %q", h.s.Request.Path)
	}
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 200 ") {
		t.Errorf("second reply: %q", h.outString())
	}
}

func TestUpgradeHandoff(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		if !s.Request.HasUpgrade {
			t.Error("upgrade header not flagged")
		}
		r := NewReply(StatusSwitchingProtocols)
		r.UpgradeProto = []byte("chat")
		s.QueueReply(r)
	})
	note := h.feed(t, "GET / HTTP/1.1\r\nUpgrade: chat\r\nConnection: upgrade\r\n\r\nEARLY")
	if note != NoteUpgraded {
		t.Fatalf("note = %v, want NoteUpgraded", note)
	}
	out := h.outString()
	if !strings.HasPrefix(out, "HTTP/1.1 101 ") ||
		!strings.Contains(out, "Upgrade: chat\r\n") ||
		!strings.Contains(out, "Connection: upgrade\r\n") {
		t.Errorf("101 head wrong: %q", out)
	}
	if string(h.s.ResidualInput()) != "EARLY" {
		t.Errorf("residual = %q", h.s.ResidualInput())
	}
}

func TestDuplicateContentLength(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\nabc")
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 400 ") {
		t.Errorf("want 400, got %q", h.outString())
	}
}

func TestChunkedPlusLength(t *testing.T) {
	req := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 3\r\n\r\n0\r\n\r\n"

	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, req)
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 400 ") {
		t.Errorf("default: want 400, got %q", h.outString())
	}

	h = newHarness(StrictnessLoose, 16*1024, replyText("x"))
	h.feed(t, req)
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 200 ") {
		t.Errorf("loose: chunked should win, got %q", h.outString())
	}
}

func TestObsoleteLineFolding(t *testing.T) {
	req := "GET / HTTP/1.1\r\nX-Long: part1\r\n  part2\r\n\r\n"

	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, req)
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 400 ") {
		t.Errorf("default: folding must be rejected, got %q", h.outString())
	}

	var folded []byte
	h = newHarness(StrictnessLoose, 16*1024, func(s *Stream) {
		v, _ := s.Request.HeaderValue("X-Long")
		folded = append([]byte(nil), v...)
		s.QueueReply(NewReply(StatusOK).WithBuffer([]byte("x")))
	})
	h.feed(t, req)
	if !bytes.HasPrefix(folded, []byte("part1")) || !bytes.HasSuffix(folded, []byte("part2")) {
		t.Errorf("folded value = %q", folded)
	}
	if bytes.ContainsAny(folded, "\r\n") {
		t.Errorf("folded value keeps line breaks: %q", folded)
	}
}

func TestBareLFByStrictness(t *testing.T) {
	req := "GET / HTTP/1.1\n\n"

	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, req)
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 200 ") {
		t.Errorf("default: bare LF should parse, got %q", h.outString())
	}

	h = newHarness(StrictnessStrict, 16*1024, replyText("x"))
	h.feed(t, req)
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 400 ") {
		t.Errorf("strict: bare LF must be rejected, got %q", h.outString())
	}
}

func TestRequestLineTooLongForPool(t *testing.T) {
	h := newHarness(StrictnessDefault, 64, replyText("x"))
	note := h.feed(t, "GET /"+strings.Repeat("a", 200)+" HTTP/1.1\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 414 ") {
		t.Errorf("want 414, got %q", h.outString())
	}
}

func TestLargeBufferHookGrows(t *testing.T) {
	claimed := 0
	pool := mempool.New(64)
	s := New(pool, StrictnessDefault, func(extra int) bool {
		claimed += extra
		return true
	})
	h := &harness{s: s, handler: replyText("x")}
	note := h.feed(t, "GET /"+strings.Repeat("a", 200)+" HTTP/1.1\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if !strings.HasPrefix(h.outString(), "HTTP/1.1 200 ") {
		t.Errorf("hook-grown request should succeed: %q", h.outString())
	}
	if claimed == 0 || s.LargeBytes() != claimed {
		t.Errorf("claimed = %d, LargeBytes = %d", claimed, s.LargeBytes())
	}
}

// nextSendfileOp drains buffered output until the stream offers the
// descriptor for a zero-copy transfer.
func (h *harness) nextSendfileOp(t *testing.T) *SendfileOp {
	t.Helper()
	for i := 0; i < 100; i++ {
		if note := h.s.Step(); note == NoteCallHandler {
			h.handler(h.s)
			continue
		}
		pieces, _, sf := h.s.SendPieces()
		if sf != nil {
			return sf
		}
		total := 0
		for _, p := range pieces {
			h.out = append(h.out, p...)
			total += len(p)
		}
		if total > 0 {
			h.s.Sent(total)
		}
	}
	t.Fatal("no sendfile transfer offered")
	return nil
}

func TestSendfileFallbackUsesMemoryPath(t *testing.T) {
	body := make([]byte, 3000)
	for i := range body {
		body[i] = 'a' + byte(i%26)
	}
	f, err := os.CreateTemp(t.TempDir(), "body-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		t.Fatal(err)
	}

	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithFD(int(f.Fd()), 0, int64(len(body))))
	})
	req := []byte("GET /f HTTP/1.1\r\n\r\n")
	n := copy(h.s.RecvTarget(), req)
	h.s.Received(n)

	sf := h.nextSendfileOp(t)
	if sf.FD != int(f.Fd()) || sf.Off != 0 || sf.Count != len(body) {
		t.Fatalf("offered transfer = %+v", *sf)
	}
	if !strings.Contains(h.outString(), "Content-Length: 3000\r\n") {
		t.Errorf("head missing length: %q", h.outString())
	}

	// Part of the body already left through sendfile when the kernel
	// refused the pairing; the rest must continue in memory from the
	// current position.
	h.s.SendfileSent(1200)
	sf = h.nextSendfileOp(t)
	if sf.Off != 1200 || sf.Count != len(body)-1200 {
		t.Fatalf("resumed transfer = %+v", *sf)
	}
	h.s.SendfileFallback()
	headLen := len(h.out)
	if note := h.drive(t); note != NoteReplyDone {
		t.Fatalf("note = %v after fallback", note)
	}
	if got := h.out[headLen:]; !bytes.Equal(got, body[1200:]) {
		t.Errorf("memory path delivered %d bytes, want %d from offset 1200",
			len(got), len(body)-1200)
	}
}

func TestResetReleasesGrowClaim(t *testing.T) {
	claimed := 0
	pool := mempool.New(64)
	s := New(pool, StrictnessDefault, func(extra int) bool {
		claimed += extra
		return true
	})
	h := &harness{s: s, handler: replyText("x")}
	note := h.feed(t, "GET /"+strings.Repeat("a", 200)+" HTTP/1.1\r\n\r\n")
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	if claimed == 0 {
		t.Fatal("request should have grown through the hook")
	}
	released := s.ResetForNext()
	if released != claimed {
		t.Errorf("released = %d, want the full claim %d", released, claimed)
	}
	if s.LargeBytes() != 0 {
		t.Errorf("LargeBytes after reset = %d", s.LargeBytes())
	}
}

func TestSuspendResume(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.Suspend()
	})
	note := h.feed(t, "GET / HTTP/1.1\r\n\r\n")
	if note != NoteNone || !h.s.Suspended() {
		t.Fatalf("note = %v, suspended = %v", note, h.s.Suspended())
	}
	h.s.Resume()
	h.s.QueueReply(NewReply(StatusOK).WithBuffer([]byte("resumed")))
	if note = h.drive(t); note != NoteReplyDone {
		t.Fatalf("note = %v after resume", note)
	}
	if !strings.HasSuffix(h.outString(), "resumed") {
		t.Errorf("out = %q", h.outString())
	}
}

func TestPeerClosesMidRequest(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, replyText("x"))
	h.feed(t, "GET / HTT")
	h.s.RemoteClosed()
	if note := h.drive(t); note != NoteClosed {
		t.Fatalf("note = %v, want NoteClosed", note)
	}
}

func TestPeerClosesMidBody(t *testing.T) {
	h := newHarness(StrictnessDefault, 16*1024, func(s *Stream) {
		s.RequestUpload()
	})
	h.feed(t, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nhal")
	h.s.RemoteClosed()
	if note := h.drive(t); note != NoteClosed {
		t.Fatalf("note = %v, want NoteClosed", note)
	}
}

func TestLargeBodyReusesBuffer(t *testing.T) {
	// Body far larger than the pool: consumed bytes must be reclaimed
	// instead of growing the buffer without bound.
	total := 0
	h := newHarness(StrictnessDefault, 1024, func(s *Stream) {
		s.RequestUpload()
	})
	h.onDone = func(s *Stream) {
		s.QueueReply(NewReply(StatusOK).WithBuffer([]byte("ok")))
	}
	body := strings.Repeat("z", 8000)
	note := h.feed(t, "POST / HTTP/1.1\r\nContent-Length: 8000\r\n\r\n"+body)
	if note != NoteReplyDone {
		t.Fatalf("note = %v", note)
	}
	for _, u := range h.uploads {
		total += len(u)
	}
	if total != 8000 {
		t.Errorf("delivered %d body bytes, want 8000", total)
	}
}
