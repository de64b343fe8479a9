package runner

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/pkg/errors"

	"vugate/internal/stats"
)

const (
	tcpDialTimeout      = 5 * time.Second
	tcpKeepAlive        = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second

	// Response bodies above this size are counted but not kept for checks.
	maxBodyKeep = 1 << 20
)

// Executor issues requests for a single VU over that VU's own connections.
type Executor struct {
	client  *http.Client
	stats   *stats.Stats
	tmpl    *TemplateEngine
	timeout time.Duration
}

func newExecutor(cfg Config, st *stats.Stats, tmpl *TemplateEngine) (*Executor, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   tcpDialTimeout,
		KeepAlive: tcpKeepAlive,
	}).DialContext
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100
	t.IdleConnTimeout = idleConnTimeout
	t.TLSHandshakeTimeout = tlsHandshakeTimeout
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}

	return &Executor{
		client: &http.Client{
			Transport: t,
			Jar:       jar,
		},
		stats:   st,
		tmpl:    tmpl,
		timeout: cfg.RequestTimeout,
	}, nil
}

// Execute sends req and always records exactly one result. Transport errors
// and timeouts come back in RequestResult.Err with Status 0.
func (e *Executor) Execute(ctx context.Context, req Request, data TemplateData) RequestResult {
	httpReq, err := e.build(ctx, req, data)
	if err != nil {
		return e.record(RequestResult{Err: err})
	}
	if req.Timeout > 0 || e.timeout > 0 {
		timeout := e.timeout
		if req.Timeout > 0 {
			timeout = req.Timeout
		}
		reqCtx, cancel := context.WithTimeout(httpReq.Context(), timeout)
		defer cancel()
		httpReq = httpReq.WithContext(reqCtx)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return e.record(RequestResult{Latency: time.Since(start), Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyKeep))
	n := int64(len(body))
	if err == nil {
		var rest int64
		rest, err = io.Copy(io.Discard, resp.Body)
		n += rest
	}
	if err != nil {
		// A response cut short by the timeout carries no status.
		return e.record(RequestResult{Latency: time.Since(start), Bytes: n, Err: errors.Wrap(err, "read body")})
	}
	return e.record(RequestResult{
		Status:  resp.StatusCode,
		Latency: time.Since(start),
		Bytes:   n,
		Body:    body,
	})
}

func (e *Executor) build(ctx context.Context, req Request, data TemplateData) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url, err := e.tmpl.Render(req.URL, data)
	if err != nil {
		return nil, errors.Wrap(err, "render url")
	}

	var body io.Reader
	if req.Body != "" {
		b, err := e.tmpl.Render(req.Body, data)
		if err != nil {
			return nil, errors.Wrap(err, "render body")
		}
		body = strings.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, v := range req.Headers {
		hv, err := e.tmpl.Render(v, data)
		if err != nil {
			return nil, errors.Wrapf(err, "render header %s", k)
		}
		httpReq.Header.Set(k, hv)
	}
	return httpReq, nil
}

func (e *Executor) record(res RequestResult) RequestResult {
	res.Failed = e.stats.Record(res.Status, res.Latency, res.Bytes, res.Err)
	return res
}

func (e *Executor) close() {
	e.client.CloseIdleConnections()
}
