package browse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dropwatch/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("dropwatch.lib.browse")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type Options struct {
	BaseUrl      string
	StorageState *StorageState
	UserAgent    string
	Timeout      time.Duration
}

// CapturedResponse is one network response observed during navigation.
// Bodies are retained verbatim; sniffing for structure is the consumer's
// concern.
type CapturedResponse struct {
	Url         string
	Status      int
	ContentType string
	Body        []byte
}

// Page is the result of one navigation: the final location after
// redirects and the parsed document.
type Page struct {
	Url *url.URL
	Doc *goquery.Document
}

// Session drives an authenticated browsing session over plain HTTP.
// Responses are buffered internally and handed out through
// DrainResponses once the page is judged settled, so consumers never
// deal with transport callbacks.
type Session struct {
	BaseUrl *url.URL
	Http    *resty.Client

	jar *cookiejar.Jar

	mu       sync.Mutex
	captured []CapturedResponse
	last     *Page
}

func NewSession(ctx context.Context, opts Options) (*Session, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	client.SetHeader("user-agent", ua)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	telemetry.InstrumentResty(client, "dropwatch.lib.browse.http")

	s := &Session{
		BaseUrl: baseUrl,
		Http:    client,
		jar:     jar,
	}
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		body := make([]byte, len(res.Body()))
		copy(body, res.Body())

		s.mu.Lock()
		defer s.mu.Unlock()
		s.captured = append(s.captured, CapturedResponse{
			Url:         res.Request.URL,
			Status:      res.StatusCode(),
			ContentType: res.Header().Get("Content-Type"),
			Body:        body,
		})
		return nil
	})

	if opts.StorageState != nil {
		s.SetStorageState(opts.StorageState)
	}
	return s, nil
}

// SetStorageState loads a credential snapshot's cookies into the jar.
// localStorage origins are carried in the snapshot but an HTTP session
// has nowhere to replay them.
func (s *Session) SetStorageState(state *StorageState) {
	for domainUrl, cookies := range state.cookiesByDomain() {
		u := domainUrl
		s.jar.SetCookies(&u, cookies)
	}
}

// ExportStorageState reads the session cookies for the base origin back
// out of the jar. The jar strips attributes, so only name/value pairs
// scoped to the base host survive a round trip.
func (s *Session) ExportStorageState() *StorageState {
	state := &StorageState{}
	for _, c := range s.jar.Cookies(s.BaseUrl) {
		state.Cookies = append(state.Cookies, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: s.BaseUrl.Hostname(),
			Path:   "/",
		})
	}
	return state
}

// Navigate fetches the given url (absolute, or relative to the current
// page) and parses the final document.
func (s *Session) Navigate(ctx context.Context, rawurl string) (*Page, error) {
	ctx, span := tracer.Start(ctx, "session:Navigate")
	defer span.End()

	target, err := s.resolve(rawurl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve navigation url")
		return nil, err
	}

	res, err := s.Http.R().
		SetContext(ctx).
		Get(target.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return nil, err
	}

	final := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse page html")
		return nil, err
	}

	page := &Page{Url: final, Doc: doc}
	s.mu.Lock()
	s.last = page
	s.mu.Unlock()
	return page, nil
}

// SubmitForm performs a form submission against the given action url.
func (s *Session) SubmitForm(ctx context.Context, action, method string, values url.Values) (*Page, error) {
	ctx, span := tracer.Start(ctx, "session:SubmitForm")
	defer span.End()

	target, err := s.resolve(action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve form action")
		return nil, err
	}

	req := s.Http.R().SetContext(ctx)
	var res *resty.Response
	if method == "get" || method == "GET" {
		req.SetQueryParamsFromValues(values)
		res, err = req.Get(target.String())
	} else {
		req.SetFormDataFromValues(values)
		res, err = req.Post(target.String())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit form")
		return nil, err
	}

	final := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse form response html")
		return nil, err
	}

	page := &Page{Url: final, Doc: doc}
	s.mu.Lock()
	s.last = page
	s.mu.Unlock()
	return page, nil
}

func (s *Session) resolve(rawurl string) (*url.URL, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		return last.Url.ResolveReference(u), nil
	}
	return s.BaseUrl.ResolveReference(u), nil
}

// Settle blocks for the fixed delay the page is given to finish loading.
func (s *Session) Settle(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// DrainResponses returns every response captured since the last drain
// and clears the buffer.
func (s *Session) DrainResponses() []CapturedResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.captured
	s.captured = nil
	return out
}

// LastPage returns the most recently navigated page, or nil.
func (s *Session) LastPage() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// DumpDebug writes the last document plus the given payloads to numbered
// files for offline inspection.
func (s *Session) DumpDebug(dir string, payloads []CapturedResponse) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	last := s.LastPage()
	if last != nil {
		html, err := last.Doc.Html()
		if err == nil {
			err = os.WriteFile(filepath.Join(dir, "page.html"), []byte(html), 0644)
		}
		if err != nil {
			return err
		}
	}

	for i, p := range payloads {
		wrapped, err := json.Marshal(map[string]any{
			"url":    p.Url,
			"status": p.Status,
			"body":   string(p.Body),
		})
		if err != nil {
			return err
		}
		err = os.WriteFile(filepath.Join(dir, fmt.Sprintf("payload_%d.json", i)), wrapped, 0644)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the session's idle connections. Safe to defer on every
// exit path.
func (s *Session) Close() {
	s.Http.GetClient().CloseIdleConnections()
}
