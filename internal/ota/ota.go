// Package ota downloads a firmware image and stages it through hal.Updater.
// A failed or short transfer is aborted; the running image is never touched
// before Commit succeeds.
package ota

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tigermeter/hal"
)

// ImageName is appended to the advertised download base.
const ImageName = "firmware-ota.bin"

// MaxRedirects bounds the manual redirect chase.
const MaxRedirects = 5

type Kind int

const (
	KindNoUpdate Kind = iota
	KindDownload
	KindNotEnoughSpace
	KindWriteIncomplete
	KindCommit
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return "ota: " + e.Err.Error()
	}
	return "ota: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the short text shown on the device for a failed update.
func Reason(err error) string {
	var oe *Error
	if !errors.As(err, &oe) {
		return err.Error()
	}
	switch oe.Kind {
	case KindNotEnoughSpace:
		return "Not enough space"
	case KindWriteIncomplete:
		return "Write incomplete"
	default:
		return oe.Message
	}
}

// Progress is called after each chunk is programmed.
type Progress func(written, total int64)

// ErrBusy is returned while another update is being written.
var ErrBusy = errors.New("ota: update in progress")

// Engine runs one update at a time.
type Engine struct {
	mu   sync.Mutex
	up   hal.Updater
	http *http.Client
}

// New returns an engine writing to up. insecure skips TLS verification.
func New(up hal.Updater, insecure bool, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Engine{
		up: up,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ImageURL returns {base}/firmware-ota.bin.
func ImageURL(base string) string {
	return strings.TrimRight(base, "/") + "/" + ImageName
}

// Download fetches the image below base and stages it. It returns the
// number of bytes committed.
func (e *Engine) Download(ctx context.Context, base string, progress Progress) (int64, error) {
	if base == "" {
		return 0, &Error{Kind: KindNoUpdate, Message: "no download URL"}
	}
	if !e.mu.TryLock() {
		return 0, ErrBusy
	}
	defer e.mu.Unlock()
	resp, err := e.open(ctx, ImageURL(base))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return e.install(resp.Body, resp.ContentLength, progress)
}

func (e *Engine) open(ctx context.Context, target string) (*http.Response, error) {
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &Error{Kind: KindDownload, Message: "bad URL", Err: err}
		}
		resp, err := e.http.Do(req)
		if err != nil {
			return nil, &Error{Kind: KindDownload, Message: "connection failed", Err: err}
		}
		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if hop >= MaxRedirects {
				return nil, &Error{Kind: KindDownload, Message: "too many redirects"}
			}
			if loc == "" {
				return nil, &Error{Kind: KindDownload, Message: "redirect without Location"}
			}
			next, err := resolve(target, loc)
			if err != nil {
				return nil, &Error{Kind: KindDownload, Message: "bad redirect", Err: err}
			}
			target = next
			continue
		case http.StatusOK:
		default:
			resp.Body.Close()
			return nil, &Error{Kind: KindDownload, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		}
		if resp.ContentLength <= 0 {
			resp.Body.Close()
			return nil, &Error{Kind: KindDownload, Message: "missing Content-Length"}
		}
		return resp, nil
	}
}

func resolve(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}

const chunk = 4096

// Install streams size bytes from r into the inactive slot and commits.
// The portal upload uses it directly.
func (e *Engine) Install(r io.Reader, size int64, progress Progress) (int64, error) {
	if !e.mu.TryLock() {
		return 0, ErrBusy
	}
	defer e.mu.Unlock()
	return e.install(r, size, progress)
}

func (e *Engine) install(r io.Reader, size int64, progress Progress) (int64, error) {
	if size <= 0 {
		return 0, &Error{Kind: KindDownload, Message: "empty image"}
	}
	w, err := e.up.Begin(size)
	if err != nil {
		if errors.Is(err, hal.ErrNoSpace) {
			return 0, &Error{Kind: KindNotEnoughSpace, Message: "Not enough space", Err: err}
		}
		return 0, &Error{Kind: KindCommit, Message: "begin", Err: err}
	}

	var written int64
	buf := make([]byte, chunk)
	for written < size {
		want := int64(len(buf))
		if rem := size - written; rem < want {
			want = rem
		}
		n, rerr := io.ReadFull(r, buf[:want])
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				w.Abort()
				return written, &Error{Kind: KindWriteIncomplete, Message: "Write incomplete", Err: werr}
			}
			if progress != nil {
				progress(written, size)
			}
		}
		if rerr != nil {
			break
		}
	}
	if written != size {
		w.Abort()
		return written, &Error{Kind: KindWriteIncomplete, Message: "Write incomplete",
			Err: fmt.Errorf("%d of %d bytes", written, size)}
	}
	if err := w.Commit(); err != nil {
		return written, &Error{Kind: KindCommit, Message: "commit failed", Err: err}
	}
	return written, nil
}

// Advert is the update state carried across heartbeats.
type Advert struct {
	AutoUpdate    bool
	LatestVersion int
	BaseURL       string
}

// Due reports whether an update to a newer version should start now.
// force skips the autoUpdate check, not the version check.
func (a Advert) Due(current int, force bool) bool {
	if a.BaseURL == "" || a.LatestVersion <= current {
		return false
	}
	return force || a.AutoUpdate
}
