// Package filesystem serves files from a root directory as replies.
// Small files are buffered; larger ones keep their descriptor so the
// engine can send them with sendfile.
package filesystem

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Karlson2k/libmicrohttpd-sub001/stream"
)

var (
	ErrFileNotFound = fmt.Errorf("filesystem: file not found")
	ErrInvalidPath  = fmt.Errorf("filesystem: invalid path")
)

// bufferCap is the largest body served from memory. Anything bigger
// stays on its descriptor.
const bufferCap = 64 << 10

// Server resolves request paths under one root directory.
type Server struct {
	root  string
	index string
}

// New builds a Server over root, which must be an existing directory.
func New(root string) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrInvalidPath
	}
	return &Server{root: abs}, nil
}

// WithIndex names the file served for directory requests. Without it,
// directory requests resolve to ErrFileNotFound.
func (s *Server) WithIndex(name string) *Server {
	s.index = name
	return s
}

// Result is a built reply. File is non-nil when the body rides on the
// descriptor; the application closes it once the request cycle ends,
// normally from the termination callback.
type Result struct {
	Reply *stream.Reply
	File  *os.File
}

// Serve resolves reqPath (the request target path, starting with '/')
// and builds a 200 reply for the file behind it.
func (s *Server) Serve(reqPath []byte) (Result, error) {
	rel, ok := sanitize(string(reqPath))
	if !ok {
		return Result{}, ErrInvalidPath
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, ErrFileNotFound
		}
		return Result{}, err
	}
	if info.IsDir() {
		if s.index == "" {
			return Result{}, ErrFileNotFound
		}
		full = filepath.Join(full, s.index)
		info, err = os.Stat(full)
		if err != nil || info.IsDir() {
			return Result{}, ErrFileNotFound
		}
	}
	if !info.Mode().IsRegular() {
		return Result{}, ErrInvalidPath
	}

	ctype := contentType(full)
	if info.Size() <= bufferCap {
		body, err := os.ReadFile(full)
		if err != nil {
			return Result{}, err
		}
		reply := stream.NewReply(200).WithBuffer(body).AddField("Content-Type", ctype)
		return Result{Reply: reply}, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return Result{}, err
	}
	reply := stream.NewReply(200).
		WithFD(int(f.Fd()), 0, info.Size()).
		AddField("Content-Type", ctype)
	return Result{Reply: reply, File: f}, nil
}

// sanitize normalizes the request path. Any ".." segment is rejected
// outright; resolved-inside-the-root is not worth distinguishing from
// an escape attempt.
func sanitize(p string) (string, bool) {
	if p == "" || p[0] != '/' || strings.ContainsRune(p, 0) {
		return "", false
	}
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == ".." {
			return "", false
		}
	}
	return strings.TrimPrefix(path.Clean(p), "/"), true
}

func contentType(full string) string {
	if t := mime.TypeByExtension(filepath.Ext(full)); t != "" {
		return t
	}
	return "application/octet-stream"
}
