package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request when no HTTP client is supplied.
const DefaultTimeout = 60 * time.Second

//go:generate mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceContext holds everything needed to talk to one ranking service
// endpoint: the base URL every path is resolved against and the HTTP client
// that carries credentials. It is immutable once created.
type ServiceContext struct {
	// urlPrefix is the prefix URL for all requests.
	urlPrefix *url.URL
	// client is the HTTP client, already decorated with credentials.
	client HTTPClient
}

type options struct {
	httpClient  HTTPClient
	credentials *Credentials
	userAgent   string
	timeout     time.Duration
	middlewares []func(http.RoundTripper) http.RoundTripper
}

// Option configures a ServiceContext.
type Option func(*options)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) { o.httpClient = client }
}

// WithCredentials attaches credentials to every request.
func WithCredentials(creds Credentials) Option {
	return func(o *options) { o.credentials = &creds }
}

// WithBasicAuth is shorthand for basic credentials.
func WithBasicAuth(username, password string) Option {
	return WithCredentials(Credentials{Type: AuthBasic, Username: username, Password: password})
}

// WithUserAgent appends userAgent to the User-Agent header of every request.
func WithUserAgent(userAgent string) Option {
	return func(o *options) { o.userAgent = userAgent }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithRoundTripper wraps the underlying http.RoundTripper. It only applies
// when the HTTP client is an *http.Client. Wrappers are applied in order, so
// the last one sees the request first.
func WithRoundTripper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, wrap) }
}

// New creates a ServiceContext for the service rooted at rawURL.
func New(rawURL string, opts ...Option) (*ServiceContext, error) {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	urlPrefix, err := parseServiceURL(rawURL)
	if err != nil {
		return nil, err
	}
	if o.credentials != nil {
		if err := o.credentials.Validate(); err != nil {
			return nil, err
		}
	}

	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: o.timeout}
	}
	if len(o.middlewares) > 0 {
		client = wrapTransport(client, o.middlewares)
	}
	if o.credentials != nil || o.userAgent != "" {
		client = &decoratingClient{
			next:        client,
			credentials: o.credentials,
			userAgent:   o.userAgent,
		}
	}

	return &ServiceContext{
		urlPrefix: urlPrefix,
		client:    client,
	}, nil
}

// NewContextForMock is a ServiceContext constructor exposed only for the
// purposes of mock testing.
func NewContextForMock(client HTTPClient) *ServiceContext {
	urlPrefix, err := url.Parse("http://localhost")
	if err != nil {
		panic("error occurred while parsing known-good URL")
	}
	return &ServiceContext{
		urlPrefix: urlPrefix,
		client:    client,
	}
}

// URL constructs a URL string for path, which may carry a query string.
func (c *ServiceContext) URL(path string) string {
	components := strings.SplitN(path, "?", 2)
	result := c.urlPrefix.JoinPath(components[0]).String()
	if len(components) > 1 {
		result += "?" + components[1]
	}
	return result
}

// BaseURL returns the service base URL.
func (c *ServiceContext) BaseURL() string {
	return c.urlPrefix.String()
}

// Client returns the HTTP client used to reach the service.
func (c *ServiceContext) Client() HTTPClient {
	return c.client
}

func parseServiceURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("service URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service URL (%s): %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid service URL (%s): scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid service URL (%s): missing host", rawURL)
	}
	return u, nil
}

func wrapTransport(client HTTPClient, middlewares []func(http.RoundTripper) http.RoundTripper) HTTPClient {
	httpClient, ok := client.(*http.Client)
	if !ok {
		return client
	}
	rt := httpClient.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	for _, wrap := range middlewares {
		rt = wrap(rt)
	}
	wrapped := *httpClient
	wrapped.Transport = rt
	return &wrapped
}

// decoratingClient adds credentials and the user agent to each request
// before handing it to the next client.
type decoratingClient struct {
	next        HTTPClient
	credentials *Credentials
	userAgent   string
}

func (d *decoratingClient) Do(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())

	if d.userAgent != "" {
		newUA := d.userAgent
		if existingUA := reqClone.UserAgent(); existingUA != "" {
			newUA = existingUA + " " + d.userAgent
		}
		reqClone.Header.Set("User-Agent", newUA)
	}
	if d.credentials != nil {
		d.credentials.apply(reqClone)
	}

	return d.next.Do(reqClone)
}
