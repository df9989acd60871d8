package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const (
	// DefaultMaxBufferedBody is the largest body without GetBody that is
	// buffered so it can be resent during negotiation.
	DefaultMaxBufferedBody = 1 << 20 // 1MB

	// defaultBufferSize is the initial size for pooled buffers.
	defaultBufferSize = 32 * 1024 // 32KB

	// maxChallengeBody bounds how much of a 401 body is kept in memory.
	maxChallengeBody = 64 * 1024
)

// bufferPool is a pool of reusable bytes.Buffer to reduce allocations.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultBufferSize))
	},
}

// readAllPooled reads from r using a pooled buffer and returns a copy of the data.
func readAllPooled(r io.Reader) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}

	// Return a copy since buf will be reused
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyReplayable
	bodyBuffered
	bodyOneShot
)

// pendingRequest is the original request plus what is needed to resend it.
// It is owned by a single Execute call.
type pendingRequest struct {
	tmpl     *http.Request // Authorization removed, Body unset
	kind     bodyKind
	getBody  func() (io.ReadCloser, error)
	buffered []byte
}

// capturePending records req for replay and returns the request to send
// first. The first request is req itself unless its body had to be buffered.
func capturePending(req *http.Request, maxBuffered int64) (*pendingRequest, *http.Request, error) {
	p := &pendingRequest{}
	first := req

	switch {
	case req.Body == nil || req.Body == http.NoBody:
		p.kind = bodyNone
	case req.GetBody != nil:
		p.kind = bodyReplayable
		p.getBody = req.GetBody
	case maxBuffered > 0 && req.ContentLength > 0 && req.ContentLength <= maxBuffered:
		data, err := readAllPooled(req.Body)
		_ = req.Body.Close() // Error intentionally ignored; body already read
		if err != nil {
			return nil, nil, fmt.Errorf("auth: read request body: %w", err)
		}
		p.kind = bodyBuffered
		p.buffered = data
		first = req.Clone(req.Context())
		first.Body = io.NopCloser(bytes.NewReader(data))
		first.GetBody = p.bufferedBody
		first.ContentLength = int64(len(data))
	default:
		p.kind = bodyOneShot
	}

	tmpl := req.Clone(req.Context())
	tmpl.Header.Del("Authorization")
	tmpl.Body = nil
	tmpl.GetBody = nil
	p.tmpl = tmpl
	return p, first, nil
}

func (p *pendingRequest) bufferedBody() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.buffered)), nil
}

// replayable reports whether the body can be sent again.
func (p *pendingRequest) replayable() bool {
	return p.kind != bodyOneShot
}

// build returns a fresh clone carrying authorization.
func (p *pendingRequest) build(ctx context.Context, authorization string) (*http.Request, error) {
	r := p.tmpl.Clone(ctx)
	r.Header.Set("Authorization", authorization)

	switch p.kind {
	case bodyNone:
		r.Body = nil
	case bodyReplayable:
		body, err := p.getBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNonReplayableBody, err)
		}
		r.Body = body
		r.GetBody = p.getBody
	case bodyBuffered:
		r.Body, _ = p.bufferedBody()
		r.GetBody = p.bufferedBody
		r.ContentLength = int64(len(p.buffered))
	default:
		return nil, ErrNonReplayableBody
	}
	return r, nil
}

// bufferBody reads a challenge response body into memory and closes the
// original, so the connection is free for the next leg. Bodies larger than
// maxChallengeBody are truncated.
func bufferBody(resp *http.Response) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return
	}
	data, _ := readAllPooled(io.LimitReader(resp.Body, maxChallengeBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
}

// drainClose discards and closes a response body that will not be returned.
func drainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxChallengeBody))
	_ = resp.Body.Close()
}
