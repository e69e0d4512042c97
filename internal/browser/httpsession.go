package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/errorsx"
	"scrapeflow/internal/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// htmlElement is an eager snapshot of a matched node, detached from the
// underlying document so it stays valid across navigations
type htmlElement struct {
	text  string
	html  string
	attrs map[string]string
}

func (e *htmlElement) Text() string { return e.text }
func (e *htmlElement) HTML() string { return e.html }
func (e *htmlElement) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func snapshotElement(sel *goquery.Selection) *htmlElement {
	attrs := make(map[string]string)
	for _, a := range sel.Get(0).Attr {
		attrs[a.Key] = a.Val
	}
	html, _ := sel.Html()
	return &htmlElement{
		text:  strings.TrimSpace(sel.Text()),
		html:  html,
		attrs: attrs,
	}
}

// HTTPSession drives sites over plain HTTP with a parsed DOM per page. It
// sends browser-like headers and rate-limits all requests per session.
type HTTPSession struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *logger.Logger

	mu         sync.Mutex
	currentURL *url.URL
	doc        *goquery.Document
	formValues map[string]string
	closed     bool
}

// NewHTTPSession creates a session from browser configuration
func NewHTTPSession(cfg config.BrowserConfig, log *logger.Logger) *HTTPSession {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSession{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		userAgent:  cfg.UserAgent,
		logger:     log,
		formValues: make(map[string]string),
	}
}

// NewFactory returns a session factory bound to the given configuration
func NewFactory(cfg config.BrowserConfig, log *logger.Logger) Factory {
	return func(ctx context.Context) (Session, error) {
		return NewHTTPSession(cfg, log), nil
	}
}

// Navigate fetches the page at rawURL and replaces the session's document
func (s *HTTPSession) Navigate(ctx context.Context, rawURL string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapPermanent(err))
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return errorsx.WithKind(errorsx.KindNetwork, errorsx.WrapRecoverable(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		// Client errors will not heal on retry; server errors may
		if resp.StatusCode < 500 {
			return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapPermanent(err))
		}
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	s.mu.Lock()
	s.currentURL = resp.Request.URL
	s.doc = doc
	s.formValues = make(map[string]string)
	s.mu.Unlock()

	s.logger.Debug("Navigated", zap.String("url", resp.Request.URL.String()))
	return nil
}

// CurrentURL returns the URL of the loaded page
func (s *HTTPSession) CurrentURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(fmt.Errorf("session closed")))
	}
	if s.currentURL == nil {
		return "", errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(fmt.Errorf("no page loaded")))
	}
	return s.currentURL.String(), nil
}

// FindElement returns the first node matching selector
func (s *HTTPSession) FindElement(selector string) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDocLocked(); err != nil {
		return nil, err
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, errorsx.WithKind(errorsx.KindStaleElement,
			errorsx.WrapRecoverable(fmt.Errorf("no element matches %q", selector)))
	}
	return snapshotElement(sel), nil
}

// FindElements returns all nodes matching selector
func (s *HTTPSession) FindElements(selector string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDocLocked(); err != nil {
		return nil, err
	}
	var out []Element
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, snapshotElement(sel))
	})
	return out, nil
}

// Click follows the link matched by selector. Only anchor elements are
// clickable in an HTTP-backed session.
func (s *HTTPSession) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	if err := s.checkDocLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		s.mu.Unlock()
		return errorsx.WithKind(errorsx.KindStaleElement,
			errorsx.WrapRecoverable(fmt.Errorf("no element matches %q", selector)))
	}
	href, ok := sel.Attr("href")
	if !ok || href == "" {
		s.mu.Unlock()
		return errorsx.WithKind(errorsx.KindUnsupported,
			errorsx.WrapPermanent(fmt.Errorf("element %q has no href", selector)))
	}
	target := s.resolveLocked(href)
	s.mu.Unlock()

	return s.Navigate(ctx, target)
}

// FillInput stages a value for the named input ahead of a form submission
func (s *HTTPSession) FillInput(selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDocLocked(); err != nil {
		return err
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		return errorsx.WithKind(errorsx.KindStaleElement,
			errorsx.WrapRecoverable(fmt.Errorf("no input matches %q", selector)))
	}
	name, ok := sel.Attr("name")
	if !ok {
		name = selector
	}
	s.formValues[name] = value
	return nil
}

// SubmitForm posts the staged input values to the form's action URL
func (s *HTTPSession) SubmitForm(ctx context.Context, selector string) error {
	s.mu.Lock()
	if err := s.checkDocLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	form := s.doc.Find(selector).First()
	if form.Length() == 0 {
		s.mu.Unlock()
		return errorsx.WithKind(errorsx.KindStaleElement,
			errorsx.WrapRecoverable(fmt.Errorf("no form matches %q", selector)))
	}
	action, _ := form.Attr("action")
	target := s.resolveLocked(action)

	values := url.Values{}
	// Hidden inputs carry server tokens, keep them
	form.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
		if name, ok := in.Attr("name"); ok {
			val, _ := in.Attr("value")
			values.Set(name, val)
		}
	})
	for name, val := range s.formValues {
		values.Set(name, val)
	}
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapPermanent(err))
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return errorsx.WithKind(errorsx.KindNetwork, errorsx.WrapRecoverable(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("form submit failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errorsx.WithKind(errorsx.KindAuth, errorsx.WrapPermanent(err))
		}
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errorsx.WithKind(errorsx.KindNavigation, errorsx.WrapRecoverable(err))
	}

	s.mu.Lock()
	s.currentURL = resp.Request.URL
	s.doc = doc
	s.formValues = make(map[string]string)
	s.mu.Unlock()
	return nil
}

// DownloadFile streams the file at rawURL to path
func (s *HTTPSession) DownloadFile(ctx context.Context, rawURL, path string) (*DownloadResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapRecoverable(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapPermanent(err))
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.WithKind(errorsx.KindNetwork, errorsx.WrapRecoverable(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("download failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode < 500 {
			return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapPermanent(err))
		}
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapRecoverable(err))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapPermanent(err))
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapPermanent(err))
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return nil, errorsx.WithKind(errorsx.KindDownload, errorsx.WrapRecoverable(err))
	}

	s.logger.Debug("File downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)

	return &DownloadResult{URL: rawURL, Path: path, Bytes: n}, nil
}

// Close releases the session; further calls fail
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.doc = nil
	s.currentURL = nil
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSession) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func (s *HTTPSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(fmt.Errorf("session closed")))
	}
	return nil
}

// checkDocLocked requires s.mu held
func (s *HTTPSession) checkDocLocked() error {
	if s.closed {
		return errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(fmt.Errorf("session closed")))
	}
	if s.doc == nil {
		return errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(fmt.Errorf("no page loaded")))
	}
	return nil
}

// resolveLocked resolves ref against the current page URL; requires s.mu held
func (s *HTTPSession) resolveLocked(ref string) string {
	if s.currentURL == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.currentURL.ResolveReference(parsed).String()
}
