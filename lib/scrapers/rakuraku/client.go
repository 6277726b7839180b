package rakuraku

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"rakuraku-calendar/lib/restyutil"
	"rakuraku-calendar/lib/telemetry"
	"sync"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const DefaultBaseUrl = "https://yoshikei-rakurakuweb.com"

const (
	loginPagePath = "/"
	loginPath     = "/top/login/"
	landingPath   = "/order/"
	dateListPath  = "/js_delivery/date_list/"
	itemListPath  = "/js_delivery/item_list/"
)

const (
	defaultTimeout           = time.Second * 30
	defaultRequestsPerSecond = 2
)

type ClientOptions struct {
	// BaseUrl defaults to DefaultBaseUrl.
	BaseUrl  string
	Username string
	Password string
	// Timeout bounds every single http request, defaults to 30 seconds.
	Timeout time.Duration
	// RequestsPerSecond limits how fast requests are sent, defaults to 2.
	RequestsPerSecond float64
	// CloudflareBypass wraps the transport with browser-like tls and headers.
	CloudflareBypass bool
	// DumpOutput receives full http exchanges when debug logging is on.
	DumpOutput restyutil.InstrumentOutput
}

// Client holds one logged-in session on the portal, requests are serialized
// so a client must not be shared between unrelated accounts.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	username string
	password string

	mutex     sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("rakuraku: username and password are required")
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(opts.Timeout)

	// max burst >= requests per second just means that no requests will be dropped
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "rakuraku.lib.scrapers.rakuraku.http")
	restyutil.InstrumentClient(client, "rakuraku", opts.DumpOutput)

	c := &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		username: opts.Username,
		password: opts.Password,
	}
	return c, nil
}

// Authenticate logs into the portal with the client's credentials, it fails
// with ErrInvalidAuth if the login does not land on the ordering page.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.authenticate(ctx)
}

func (c *Client) authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:Authenticate")
	defer span.End()

	if c.closed.Load() {
		return ErrClosed
	}

	slog.InfoContext(ctx, "authenticating", "username", c.username)

	res, err := c.Http.R().
		SetContext(ctx).
		Get(loginPagePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return fmt.Errorf("%w: fetch login page: %w", ErrTransport, err)
	}
	if res.IsError() {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return fmt.Errorf("%w: fetch login page: unexpected status %s", ErrTransport, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse login page")
		return fmt.Errorf("%w: parse login page: %w", ErrParse, err)
	}

	token := doc.Find(`form[name="fm_login"] input[name="_token"]`).AttrOr("value", "")
	if token == "" {
		span.SetStatus(codes.Error, "failed to find login token")
		return fmt.Errorf("%w: could not find login token", ErrParse)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_token":    token,
			"login_cd":  c.username,
			"login_pwd": c.password,
		}).
		Post(loginPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return fmt.Errorf("%w: login: %w", ErrTransport, err)
	}

	landedOn := ""
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		landedOn = res.RawResponse.Request.URL.Path
	}
	span.SetAttributes(attribute.String("custom.landed_on", landedOn))
	slog.DebugContext(ctx, "authentication response", "path", landedOn, "status", res.StatusCode())

	if landedOn != landingPath {
		span.SetStatus(codes.Error, ErrInvalidAuth.Error())
		slog.WarnContext(ctx, "authentication failed", "username", c.username, "path", landedOn)
		return ErrInvalidAuth
	}
	return nil
}

// post sends a form to the portal and fails on transport errors and non-2xx
// statuses.
func (c *Client) post(ctx context.Context, endpoint string, form map[string]string) (*resty.Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %w", ErrTransport, endpoint, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: POST %s: unexpected status %s", ErrTransport, endpoint, res.Status())
	}
	return res, nil
}

// Close releases the session, it is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()

		c.closed.Store(true)
		c.Http.SetCookieJar(nil)
		c.Http.GetClient().CloseIdleConnections()
		slog.Info("session closed", "username", c.username)
	})
	return nil
}
