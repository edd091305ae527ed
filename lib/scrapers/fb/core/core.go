package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"fbharvest-backend/lib/restyutil"
	"fbharvest-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	browser "github.com/EDDYCJY/fake-useragent"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/fb/core")

// Transport-level failure (non-2xx or network error). Never retried here;
// callers that probe flaky endpoints own their own bounded retries.
var ErrTransport = fmt.Errorf("transport failure")

// An expected element or attribute is missing. The remote markup has
// drifted; retrying cannot fix this.
var ErrMalformedPage = fmt.Errorf("expected markup is missing")

// Client is a session-bound transport for the target's legacy low-markup
// host and its standard mobile host. One cookie jar spans both. The user
// agent is randomized once per client generation, so two clients never
// present the same browser identity.
type Client struct {
	// low-markup host, all form flows and most crawling go through it
	BasicURL *url.URL
	// standard mobile host, used by the reaction AJAX endpoints
	MobileURL *url.URL
	Http      *resty.Client
	// opaque tag identifying this client generation in logs
	Generation string
}

type ClientOptions struct {
	// defaults to https://mbasic.facebook.com
	BasicHost string
	// defaults to https://m.facebook.com
	MobileHost string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BasicHost == "" {
		opts.BasicHost = "https://mbasic.facebook.com"
	}
	if opts.MobileHost == "" {
		opts.MobileHost = "https://m.facebook.com"
	}

	basicUrl, err := url.Parse(opts.BasicHost)
	if err != nil {
		return nil, err
	}
	mobileUrl, err := url.Parse(opts.MobileHost)
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

	client.SetHeader("user-agent", browser.Random())
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(
		basicUrl.Hostname(), mobileUrl.Hostname(),
	))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/fb/http")

	generation, err := random.String(8)
	if err != nil {
		return nil, err
	}

	c := &Client{
		BasicURL:   basicUrl,
		MobileURL:  mobileUrl,
		Http:       client,
		Generation: generation,
	}
	c.instrument()
	return c, nil
}

// CloneAnonymous builds a fresh client against the same hosts with an
// empty cookie jar and a new generation. It is never logged in; the
// comment crawler uses it to see what a logged-out viewer sees.
func (c *Client) CloneAnonymous(ctx context.Context) (*Client, error) {
	return NewClient(ctx, ClientOptions{
		BasicHost:  c.BasicURL.String(),
		MobileHost: c.MobileURL.String(),
	})
}

var instrumentOutput restyutil.InstrumentOutput

// SetInstrumentOutput attaches exchange dumping to every client created
// afterwards. Dev tooling only.
func SetInstrumentOutput(out restyutil.InstrumentOutput) {
	instrumentOutput = out
}

func (c *Client) instrument() {
	if instrumentOutput != nil {
		restyutil.InstrumentClient(c.Http, tracer, instrumentOutput)
	}
}

// GetDoc fetches url and parses the body as a document tree. The returned
// response carries the post-redirect landing URL, which the auth flow
// classifies.
func (c *Client) GetDoc(ctx context.Context, target string) (*goquery.Document, *resty.Response, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("%w: GET %s: status %d", ErrTransport, target, res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, nil, err
	}
	return doc, res, nil
}

// PostForm submits an urlencoded form and parses the response body.
func (c *Client) PostForm(ctx context.Context, target string, form url.Values) (*goquery.Document, *resty.Response, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("%w: POST %s: status %d", ErrTransport, target, res.StatusCode())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, nil, err
	}
	return doc, res, nil
}

// LandingURL is the final URL after redirects for a completed response.
func LandingURL(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}

// SessionUserId reads the account id of the logged-in session from the
// session-identity cookie, or -1 when there is none.
func (c *Client) SessionUserId() int64 {
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return -1
	}
	for _, cookie := range jar.Cookies(c.BasicURL) {
		if cookie.Name == "c_user" {
			id, err := strconv.ParseInt(cookie.Value, 10, 64)
			if err != nil {
				return -1
			}
			return id
		}
	}
	return -1
}

// Cookies exports the session cookies for the low-markup host.
func (c *Client) Cookies() map[string]string {
	out := map[string]string{}
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return out
	}
	for _, cookie := range jar.Cookies(c.BasicURL) {
		if _, ok := out[cookie.Name]; !ok {
			out[cookie.Name] = cookie.Value
		}
	}
	return out
}

// SetCookies imports a previously exported cookie dictionary into the
// jar for both hosts, restoring a saved session without a fresh login.
func (c *Client) SetCookies(cookies map[string]string) {
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return
	}
	var list []*http.Cookie
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	jar.SetCookies(c.BasicURL, list)
	jar.SetCookies(c.MobileURL, list)
}

// UserIdFromCookies reads the session user id out of an exported cookie
// dictionary, -1 when absent.
func UserIdFromCookies(cookies map[string]string) int64 {
	v, ok := cookies["c_user"]
	if !ok {
		return -1
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return id
}
