package page

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/dbsmedya/goharvest/internal/logger"
)

// Options configures an HTTPDriver.
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	Poll              time.Duration
	RequestsPerSecond float64
	FrameDepth        int
}

// request is a replayable navigation.
type request struct {
	method string
	url    string
	form   url.Values
}

// HTTPDriver renders views by fetching server-side HTML. Selecting an option
// submits the control's enclosing form, or re-requests the page with the
// control's value in the query string when there is no form.
type HTTPDriver struct {
	http       *resty.Client
	log        *logger.Logger
	poll       time.Duration
	frameDepth int

	mu         sync.Mutex
	entry      string
	last       request
	doc        *goquery.Document
	body       []byte
	base       *url.URL
	generation uint64
}

// NewHTTPDriver creates a driver with a cookie jar and a request rate limit.
func NewHTTPDriver(opts Options, log *logger.Logger) (*HTTPDriver, error) {
	if log == nil {
		log = logger.NewNop()
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	poll := opts.Poll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	return &HTTPDriver{
		http:       client,
		log:        log,
		poll:       poll,
		frameDepth: opts.FrameDepth,
	}, nil
}

// Open loads the entry page. Reload returns to it.
func (d *HTTPDriver) Open(ctx context.Context, entryURL string) error {
	d.mu.Lock()
	d.entry = entryURL
	d.mu.Unlock()
	return d.Reload(ctx)
}

// Reload discards the current view and fetches the entry page again.
func (d *HTTPDriver) Reload(ctx context.Context) error {
	d.mu.Lock()
	entry := d.entry
	d.mu.Unlock()
	if entry == "" {
		return ErrNotOpen
	}
	return d.navigate(ctx, request{method: http.MethodGet, url: entry})
}

// CurrentView returns the most recently loaded document.
func (d *HTTPDriver) CurrentView() *goquery.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc
}

// Snapshot returns the raw HTML of the current view.
func (d *HTTPDriver) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.body == nil {
		return nil, ErrNotOpen
	}
	return append([]byte(nil), d.body...), nil
}

// Locate searches the current document and its frames.
func (d *HTTPDriver) Locate(ctx context.Context, selector string) (*Handle, error) {
	root := d.root()
	if root == nil {
		return nil, ErrNotOpen
	}
	return Search(ctx, root, selector, d.frameDepth)
}

// ApplySelection submits value for the control referenced by h.
func (d *HTTPDriver) ApplySelection(ctx context.Context, h *Handle, value string) (bool, error) {
	if h == nil || h.Selection == nil || h.Selection.Length() == 0 {
		return false, nil
	}

	d.mu.Lock()
	current := d.generation
	d.mu.Unlock()
	if h.generation != current {
		return false, ErrStaleHandle
	}

	if !hasOption(h.Selection, value) {
		return false, nil
	}

	name := h.Selection.AttrOr("name", h.Selection.AttrOr("id", ""))
	if name == "" {
		return false, fmt.Errorf("control has neither name nor id")
	}

	base := d.contextURL(h.Context)
	req, err := buildSubmission(base, h.Selection, name, value)
	if err != nil {
		return false, err
	}

	if err := d.navigate(ctx, req); err != nil {
		return false, err
	}
	return true, nil
}

// WaitFor re-fetches the current view every poll interval until predicate
// holds or timeout elapses. Fetch errors while polling count as not ready.
func (d *HTTPDriver) WaitFor(ctx context.Context, predicate Predicate, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if doc := d.CurrentView(); doc != nil && predicate(doc) {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}

		wait := d.poll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}

		d.mu.Lock()
		last := d.last
		d.mu.Unlock()
		if err := d.navigate(ctx, last); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.log.Debugw("Readiness poll fetch failed", "url", last.url, "error", err)
		}
	}
}

// Generation returns the current view generation.
func (d *HTTPDriver) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

func (d *HTTPDriver) root() Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil
	}
	return &documentContext{
		driver:     d,
		name:       d.base.String(),
		base:       d.base,
		doc:        d.doc,
		generation: d.generation,
	}
}

func (d *HTTPDriver) contextURL(c Context) *url.URL {
	if dc, ok := c.(*documentContext); ok && dc.base != nil {
		return dc.base
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base
}

// navigate performs req and replaces the current view with the response.
func (d *HTTPDriver) navigate(ctx context.Context, req request) error {
	doc, body, final, err := d.fetch(ctx, req)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.doc = doc
	d.body = body
	d.base = final
	d.last = req
	d.generation++
	d.mu.Unlock()
	return nil
}

func (d *HTTPDriver) fetch(ctx context.Context, req request) (*goquery.Document, []byte, *url.URL, error) {
	r := d.http.R().SetContext(ctx)

	var (
		res *resty.Response
		err error
	)
	switch req.method {
	case http.MethodPost:
		res, err = r.SetFormDataFromValues(req.form).Post(req.url)
	default:
		target := req.url
		if len(req.form) > 0 {
			u, perr := url.Parse(req.url)
			if perr != nil {
				return nil, nil, nil, perr
			}
			u.RawQuery = req.form.Encode()
			target = u.String()
		}
		res, err = r.Get(target)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch %s: %w", req.url, err)
	}
	if res.IsError() {
		return nil, nil, nil, fmt.Errorf("fetch %s: unexpected status %d", req.url, res.StatusCode())
	}

	body := res.Body()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse %s: %w", req.url, err)
	}

	final, err := url.Parse(req.url)
	if err != nil {
		return nil, nil, nil, err
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		final = res.RawResponse.Request.URL
	}
	return doc, body, final, nil
}

// documentContext is a fetched document, either the top-level view or a frame.
type documentContext struct {
	driver     *HTTPDriver
	name       string
	base       *url.URL
	doc        *goquery.Document
	generation uint64
}

func (c *documentContext) Name() string { return c.name }

func (c *documentContext) Locate(selector string) *Handle {
	sel := c.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return NewHandle(sel, c, c.generation)
}

func (c *documentContext) Children(ctx context.Context) ([]Context, error) {
	var children []Context
	var firstErr error
	c.doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "about:") || strings.HasPrefix(src, "javascript:") {
			return
		}
		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		target := c.base.ResolveReference(ref)
		doc, _, final, err := c.driver.fetch(ctx, request{method: http.MethodGet, url: target.String()})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		children = append(children, &documentContext{
			driver:     c.driver,
			name:       src,
			base:       final,
			doc:        doc,
			generation: c.generation,
		})
	})
	if len(children) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return children, nil
}

func hasOption(control *goquery.Selection, value string) bool {
	found := false
	control.Find("option").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("value")
		if !ok {
			v = s.Text()
		}
		if normalizeSpace(v) == value {
			found = true
			return false
		}
		return true
	})
	return found
}

// buildSubmission serialises the control's enclosing form with name set to
// value. Without a form the page itself is requested with name=value.
func buildSubmission(base *url.URL, control *goquery.Selection, name, value string) (request, error) {
	form := control.Closest("form")
	if form.Length() == 0 {
		q := base.Query()
		q.Set(name, value)
		u := *base
		u.RawQuery = ""
		return request{method: http.MethodGet, url: u.String(), form: q}, nil
	}

	target := base
	if action := strings.TrimSpace(form.AttrOr("action", "")); action != "" {
		ref, err := url.Parse(action)
		if err != nil {
			return request{}, fmt.Errorf("invalid form action %q: %w", action, err)
		}
		target = base.ResolveReference(ref)
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
		}
		values.Add(s.AttrOr("name", ""), s.AttrOr("value", ""))
	})
	form.Find("select[name]").Each(func(_ int, s *goquery.Selection) {
		selected := s.Find("option[selected]").First()
		if selected.Length() == 0 {
			selected = s.Find("option").First()
		}
		if selected.Length() > 0 {
			values.Set(s.AttrOr("name", ""), selected.AttrOr("value", selected.Text()))
		}
	})
	values.Set(name, value)

	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))
	if method != http.MethodPost {
		method = http.MethodGet
	}
	u := *target
	if method == http.MethodGet {
		u.RawQuery = ""
	}
	return request{method: method, url: u.String(), form: values}, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
