package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mind-engage/mindengage-progress/internal/course"
)

// ProbeResult is what the cascade needs to know about a material source.
type ProbeResult struct {
	Reachable      bool   `json:"reachable"`
	RangeSupported bool   `json:"range_supported"`
	ContentType    string `json:"content_type,omitempty"`
	StatusCode     int    `json:"status_code,omitempty"`
}

// ErrProbeInconclusive means the source answered without settling whether
// it can be rendered, e.g. a 5xx. The client should still try it.
var ErrProbeInconclusive = errors.New("probe inconclusive")

// Prober checks a material source before it is rendered.
type Prober interface {
	Probe(ctx context.Context, m course.Material) (ProbeResult, error)
}

type ProberFunc func(ctx context.Context, m course.Material) (ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, m course.Material) (ProbeResult, error) {
	return f(ctx, m)
}

// HTTPProber probes remote sources with a one-byte range request. Blob-backed
// sources are delegated to Local when set.
type HTTPProber struct {
	client *resty.Client
	Local  ProberFunc
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "mindengage-progress/viewer-probe")
	return &HTTPProber{client: c}
}

// Probe reports a source unreachable only on a definite answer (404, 410).
// Anything else, a timeout included, comes back as an error so the cascade
// still lets the client try every strategy.
func (p *HTTPProber) Probe(ctx context.Context, m course.Material) (ProbeResult, error) {
	if !IsRemote(m.SourceRef) {
		if p.Local != nil {
			return p.Local(ctx, m)
		}
		return ProbeResult{Reachable: true}, nil
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(true).
		Get(m.SourceRef)
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		return ProbeResult{}, fmt.Errorf("probe %s: %w", m.SourceRef, err)
	}
	if body := resp.RawBody(); body != nil {
		defer body.Close()
	}
	code := resp.StatusCode()
	res := ProbeResult{
		StatusCode:  code,
		ContentType: resp.Header().Get("Content-Type"),
	}
	switch {
	case code == http.StatusPartialContent:
		res.Reachable = true
		res.RangeSupported = true
	case code >= 200 && code < 300:
		res.Reachable = true
		res.RangeSupported = strings.EqualFold(resp.Header().Get("Accept-Ranges"), "bytes")
	case code == http.StatusRequestedRangeNotSatisfiable:
		// empty file, but the server understands ranges
		res.Reachable = true
		res.RangeSupported = true
	case code == http.StatusNotFound || code == http.StatusGone:
		// definite miss
	default:
		return res, fmt.Errorf("%w: %s answered %d", ErrProbeInconclusive, m.SourceRef, code)
	}
	return res, nil
}
