package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestCapturePending_BodyKinds(t *testing.T) {
	tests := []struct {
		name       string
		req        func() *http.Request
		max        int64
		kind       bodyKind
		replayable bool
	}{
		{
			name: "no body",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodGet, "http://srv/", nil)
				return r
			},
			max: DefaultMaxBufferedBody, kind: bodyNone, replayable: true,
		},
		{
			name: "get body",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodPost, "http://srv/", strings.NewReader("payload"))
				return r
			},
			max: DefaultMaxBufferedBody, kind: bodyReplayable, replayable: true,
		},
		{
			name: "small one-shot is buffered",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodPost, "http://srv/", io.NopCloser(strings.NewReader("payload")))
				r.ContentLength = 7
				return r
			},
			max: DefaultMaxBufferedBody, kind: bodyBuffered, replayable: true,
		},
		{
			name: "large one-shot",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodPost, "http://srv/", io.NopCloser(strings.NewReader("payload")))
				r.ContentLength = 7
				return r
			},
			max: 4, kind: bodyOneShot, replayable: false,
		},
		{
			name: "unknown length",
			req: func() *http.Request {
				r, _ := http.NewRequest(http.MethodPost, "http://srv/", io.NopCloser(strings.NewReader("payload")))
				r.ContentLength = -1
				return r
			},
			max: DefaultMaxBufferedBody, kind: bodyOneShot, replayable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, first, err := capturePending(tt.req(), tt.max)
			if err != nil {
				t.Fatalf("capturePending() error = %v", err)
			}
			if p.kind != tt.kind {
				t.Errorf("kind = %d; want %d", p.kind, tt.kind)
			}
			if p.replayable() != tt.replayable {
				t.Errorf("replayable() = %v; want %v", p.replayable(), tt.replayable)
			}
			if first == nil {
				t.Fatal("first request is nil")
			}
		})
	}
}

func TestPendingRequest_BuildReplaysBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://srv/api", io.NopCloser(bytes.NewReader([]byte("hello"))))
	req.ContentLength = 5
	req.Header.Set("Authorization", "Bearer stale")
	req.Header.Set("X-Custom", "kept")

	p, first, err := capturePending(req, DefaultMaxBufferedBody)
	if err != nil {
		t.Fatalf("capturePending() error = %v", err)
	}
	b, _ := io.ReadAll(first.Body)
	if string(b) != "hello" {
		t.Errorf("first body = %q; want hello", b)
	}

	for i := 0; i < 2; i++ {
		r, err := p.build(context.Background(), "NTLM abc")
		if err != nil {
			t.Fatalf("build() error = %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "NTLM abc" {
			t.Errorf("Authorization = %q; want NTLM abc", got)
		}
		if got := r.Header.Get("X-Custom"); got != "kept" {
			t.Errorf("X-Custom = %q; want kept", got)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != "hello" {
			t.Errorf("build %d body = %q; want hello", i, b)
		}
		if r.ContentLength != 5 {
			t.Errorf("ContentLength = %d; want 5", r.ContentLength)
		}
	}

	if req.Header.Get("Authorization") != "Bearer stale" {
		t.Error("caller's request headers were modified")
	}
}

func TestPendingRequest_GetBodyFailure(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://srv/", strings.NewReader("x"))
	req.GetBody = func() (io.ReadCloser, error) {
		return nil, errors.New("gone")
	}
	p, _, err := capturePending(req, DefaultMaxBufferedBody)
	if err != nil {
		t.Fatalf("capturePending() error = %v", err)
	}
	if _, err := p.build(context.Background(), "Basic x"); !errors.Is(err, ErrNonReplayableBody) {
		t.Errorf("build() error = %v; want ErrNonReplayableBody", err)
	}
}

func TestBufferBody(t *testing.T) {
	closed := false
	resp := &http.Response{Body: &closeSpy{Reader: strings.NewReader("denied"), closed: &closed}}
	bufferBody(resp)

	if !closed {
		t.Error("original body was not closed")
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "denied" {
		t.Errorf("buffered body = %q; want denied", b)
	}

	big := &http.Response{Body: io.NopCloser(strings.NewReader(strings.Repeat("x", maxChallengeBody+10)))}
	bufferBody(big)
	b, _ = io.ReadAll(big.Body)
	if len(b) != maxChallengeBody {
		t.Errorf("buffered %d bytes; want %d", len(b), maxChallengeBody)
	}
}

type closeSpy struct {
	io.Reader
	closed *bool
}

func (c *closeSpy) Close() error {
	*c.closed = true
	return nil
}
