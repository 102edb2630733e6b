package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"planetarble/internal/services"
)

// httpFetcher streams a URL into a .part file. An existing .part seeds a
// Range request so interrupted transfers resume from the reached offset
// instead of restarting.
type httpFetcher struct {
	client       *http.Client
	userAgent    string
	showProgress bool
}

func newHTTPFetcher(headerTimeout time.Duration, showProgress bool) *httpFetcher {
	if headerTimeout <= 0 {
		headerTimeout = 2 * time.Minute
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &httpFetcher{
		client:       &http.Client{Transport: transport},
		userAgent:    "planetarble/1.0",
		showProgress: showProgress,
	}
}

// Fetch downloads url into partPath, appending to an existing partial when
// the server honors byte ranges and truncating when it does not.
func (f *httpFetcher) Fetch(ctx context.Context, url string, headers map[string]string, partPath string) error {
	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "acquire", "build request", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "acquire", "http get", url, err)
	}
	defer resp.Body.Close()

	var flags int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case http.StatusOK:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// Stale partial, likely longer than the remote object. Drop it and
		// let the retry policy start the transfer over.
		os.Remove(partPath)
		return services.Wrap(services.ErrTransient, "acquire", "http get", fmt.Sprintf("%s: range not satisfiable", url), nil)
	default:
		return classifyStatus(url, resp.StatusCode)
	}

	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return services.Wrap(services.ErrAcquisition, "acquire", "open partial", partPath, err)
	}

	var dest io.Writer = out
	var bar *progressbar.ProgressBar
	if f.showProgress {
		total := resp.ContentLength
		if total > 0 {
			total += offset
		}
		bar = progressbar.DefaultBytes(total, filepath.Base(partPath))
		if err := bar.Set64(offset); err == nil {
			dest = io.MultiWriter(out, bar)
		}
	}

	_, copyErr := io.Copy(dest, resp.Body)
	closeErr := out.Close()
	if bar != nil {
		_ = bar.Finish()
	}
	if copyErr != nil {
		return services.Wrap(services.ErrTransient, "acquire", "stream body", url, copyErr)
	}
	if closeErr != nil {
		return services.Wrap(services.ErrAcquisition, "acquire", "close partial", partPath, closeErr)
	}
	return nil
}

// classifyStatus maps an HTTP status to the retry taxonomy: throttling and
// server-side failures are transient, every other client error disqualifies
// the candidate outright.
func classifyStatus(url string, status int) error {
	message := fmt.Sprintf("%s: http %d", url, status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return services.Wrap(services.ErrTransient, "acquire", "http get", message, nil)
	}
	return services.Wrap(services.ErrValidation, "acquire", "http get", message, nil)
}
