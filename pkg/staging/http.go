package staging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/format"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTP downloads staged files from the upload service at
// <base>/<file_id>. Transport errors and 5xx answers are retried.
type HTTP struct {
	base   string
	client *retryablehttp.Client
}

// NewHTTP builds a downloader. logger may be nil to silence retry logs.
func NewHTTP(base string, retries int, logger retryablehttp.LeveledLogger) *HTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = logger
	return &HTTP{base: strings.TrimRight(base, "/"), client: client}
}

func (h *HTTP) Open(ctx context.Context, fileID, fileType string) (*File, error) {
	if fileID == "" {
		return nil, errkind.New(errkind.NotFound, "empty file id")
	}
	u := h.base + "/" + url.PathEscape(fileID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errkind.Wrapf(errkind.Internal, err, "request for %s", fileID)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrapf(errkind.Timeout, err, "download %s", fileID)
		}
		return nil, errkind.Wrapf(errkind.BackendUnavailable, err, "download %s", fileID)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errkind.New(errkind.NotFound, "upload service has no file %s", fileID)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, errkind.New(errkind.BackendUnavailable, "upload service answered %s for %s", resp.Status, fileID)
	}

	name := fileID
	if fileType != "" {
		name = fmt.Sprintf("%s.%s", fileID, strings.ToLower(fileType))
	}
	// ContentLength is -1 when unknown; the registry then counts bytes
	return &File{
		Source: format.Source{Name: name, Size: resp.ContentLength, Reader: resp.Body},
		Closer: resp.Body,
	}, nil
}
