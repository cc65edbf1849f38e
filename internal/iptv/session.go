// Package iptv implements the proprietary handshake and channel scrape
// against the telecom EPG service: discover the service base address, obtain
// an encrypted token, submit a 3DES authenticator, then pull the channel
// listing from the authenticated session.
package iptv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kelvane/tellyvault/internal/httpclient"
)

// DefaultAuthURL is the fixed discovery endpoint of the Guangdong Telecom
// EPG deployment.
const DefaultAuthURL = "http://eds.iptv.gd.cn:8082/EDS/jsp/AuthenticationURL"

// userAgent mimics the set-top box browser; the EPG backend rejects unknown
// agents on some deployments.
const userAgent = "Mozilla/5.0 (X11; U; Linux i686; en-US) AppleWebKit/534.0 (KHTML, like Gecko)"

// protocolMarker is the fixed trailing field of the authenticator tuple.
const protocolMarker = "CTC"

// Credentials identifies one subscriber line to the upstream service.
type Credentials struct {
	Username string // account id, without the "@iptv.gd" suffix
	Password string
	MAC      string
	IMEI     string // optional
	Address  string // optional network address
}

// Encryptor produces the authenticator blob from its plaintext tuple.
// Satisfied by *crypt.Cipher.
type Encryptor interface {
	Encrypt(plaintext string) string
}

// Session is an authenticated upstream session. It is created per fetch and
// never shared across fetch operations or accounts.
type Session struct {
	creds   Credentials
	authURL string
	http    *http.Client
	limiter *rate.Limiter
	enc     Encryptor
	nonce   func() int

	// BaseURL is populated by Authenticate: the discovered service root,
	// scheme and host only.
	BaseURL string
}

// Option configures a Session.
type Option func(*Session)

// WithAuthURL overrides the discovery endpoint.
func WithAuthURL(u string) Option {
	return func(s *Session) {
		if u != "" {
			s.authURL = u
		}
	}
}

// WithHTTPClient substitutes the transport, primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.http = c }
}

// WithRateLimit spaces upstream requests at the given interval.
func WithRateLimit(interval time.Duration) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(rate.Every(interval), 1) }
}

// withNonce fixes the authenticator nonce, for tests.
func withNonce(fn func() int) Option {
	return func(s *Session) { s.nonce = fn }
}

// NewSession builds an unauthenticated session for one fetch operation.
func NewSession(creds Credentials, enc Encryptor, opts ...Option) *Session {
	jar, _ := cookiejar.New(nil)
	client := httpclient.WithTimeout(httpclient.DefaultTimeout)
	client.Jar = jar
	s := &Session{
		creds:   creds,
		authURL: DefaultAuthURL,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		enc:     enc,
		nonce:   func() int { return rand.Intn(10_000_001) },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.http.Jar == nil {
		s.http.Jar = jar
	}
	return s
}

// Authenticate runs the three-step handshake. On return the session cookie
// jar holds whatever the EPG backend issued and BaseURL is set.
//
// The token exchange gives no explicit ok/fail field; any non-error HTTP
// response is accepted here and the caller must treat a subsequent empty
// scrape as an uncertain authentication outcome.
func (s *Session) Authenticate(ctx context.Context) error {
	base, err := s.discover(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	s.BaseURL = base

	token, err := s.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToken, err)
	}

	if err := s.login(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return nil
}

// discover asks the fixed discovery endpoint for the service address; the
// redirect Location header is the answer, reduced to scheme+host.
func (s *Session) discover(ctx context.Context) (string, error) {
	u, err := url.Parse(s.authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("UserID", s.creds.Username)
	q.Set("Action", "Login")
	u.RawQuery = q.Encode()

	resp, err := s.do(ctx, http.MethodGet, u.String(), noRedirect)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("no redirect Location in %d response", resp.StatusCode)
	}
	redir, err := url.Parse(loc)
	if err != nil || redir.Host == "" {
		return "", fmt.Errorf("invalid redirect %q", loc)
	}
	redir.Path = ""
	redir.RawQuery = ""
	redir.Fragment = ""
	return redir.String(), nil
}

// token requests the short-lived encrypted token for the account.
func (s *Session) token(ctx context.Context) (string, error) {
	u := s.BaseURL + "/EPG/oauth/v2/authorize"
	q := url.Values{
		"response_type": {"EncryToken"},
		"client_id":     {"smcphone"},
		"userid":        {s.creds.Username},
	}
	resp, err := s.do(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var payload struct {
		EncryToken string `json:"EncryToken"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parse token response: %v", err)
	}
	if payload.EncryToken == "" {
		return "", fmt.Errorf("empty EncryToken in response")
	}
	return payload.EncryToken, nil
}

// login submits the encrypted authenticator to the token-exchange endpoint.
func (s *Session) login(ctx context.Context, token string) error {
	authinfo := s.enc.Encrypt(s.authenticator(token))

	u := s.BaseURL + "/EPG/oauth/v2/token"
	q := url.Values{
		"client_id":     {"smcphone"},
		"DeviceType":    {"deviceType"},
		"UserID":        {s.creds.Username},
		"DeviceVersion": {"deviceVersion"},
		"userdomain":    {"2"},
		"datadomain":    {"3"},
		"accountType":   {"1"},
		"authinfo":      {authinfo},
		"grant_type":    {"EncryToken"},
	}
	resp, err := s.do(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// authenticator builds the $-joined plaintext tuple: nonce, token, account,
// IMEI, address, MAC, an empty field, and the protocol marker.
func (s *Session) authenticator(token string) string {
	return strings.Join([]string{
		fmt.Sprintf("%d", s.nonce()),
		token,
		s.creds.Username,
		s.creds.IMEI,
		s.creds.Address,
		s.creds.MAC,
		"",
		protocolMarker,
	}, "$")
}

// do issues one rate-limited request through the session transport.
func (s *Session) do(ctx context.Context, method, rawURL string, check func(*http.Request, []*http.Request) error) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	client := s.http
	if check != nil {
		// Shallow copy so the redirect policy does not leak into later calls.
		c := *s.http
		c.CheckRedirect = check
		client = &c
	}
	return httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
