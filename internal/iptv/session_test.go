package iptv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/kelvane/tellyvault/internal/crypt"
)

// fakeEPG stands in for the upstream service: discovery redirect, token
// issue, authinfo verification, channel listing.
type fakeEPG struct {
	srv        *httptest.Server
	token      string
	cipher     *crypt.Cipher
	listing    string
	seenAuth   string
	tokenCalls int
}

func newFakeEPG(t *testing.T, password string) *fakeEPG {
	t.Helper()
	cipher, err := crypt.NewFromPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeEPG{token: "TOK123", cipher: cipher}
	mux := http.NewServeMux()
	mux.HandleFunc("/EDS/jsp/AuthenticationURL", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Action") != "Login" || r.URL.Query().Get("UserID") == "" {
			http.Error(w, "bad discovery request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Location", f.srv.URL+"/EPG/jsp/authLoginHWCTC.jsp?some=query")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/EPG/oauth/v2/authorize", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		fmt.Fprintf(w, `{"EncryToken":%q}`, f.token)
	})
	mux.HandleFunc("/EPG/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		f.seenAuth = r.URL.Query().Get("authinfo")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/EPG/jsp/getchannellistHWCTC.jsp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, f.listing)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEPG) session(opts ...Option) *Session {
	creds := Credentials{
		Username: "075812345678",
		Password: "secret",
		MAC:      "AA:BB:CC:DD:EE:FF",
		IMEI:     "356938035643809",
		Address:  "192.0.2.10",
	}
	all := append([]Option{
		WithAuthURL(f.srv.URL + "/EDS/jsp/AuthenticationURL"),
		WithHTTPClient(f.srv.Client()),
		WithRateLimit(time.Microsecond),
	}, opts...)
	return NewSession(creds, f.cipher, all...)
}

func TestAuthenticateHandshake(t *testing.T) {
	f := newFakeEPG(t, "secret")
	s := f.session(withNonce(func() int { return 42 }))

	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.BaseURL != f.srv.URL {
		t.Errorf("BaseURL = %q, want %q (path and query stripped)", s.BaseURL, f.srv.URL)
	}
	if f.seenAuth == "" {
		t.Fatal("no authinfo submitted")
	}
	plain, err := f.cipher.Decrypt(f.seenAuth)
	if err != nil {
		t.Fatalf("decrypt authinfo: %v", err)
	}
	want := "42$TOK123$075812345678$356938035643809$192.0.2.10$AA:BB:CC:DD:EE:FF$$CTC"
	if plain != want {
		t.Errorf("authenticator = %q, want %q", plain, want)
	}
}

func TestAuthenticateDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 without a Location header.
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cipher, err := crypt.NewFromPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	s := NewSession(Credentials{Username: "u", Password: "secret", MAC: "m"}, cipher,
		WithAuthURL(srv.URL+"/EDS/jsp/AuthenticationURL"),
		WithHTTPClient(srv.Client()),
		WithRateLimit(time.Microsecond))
	err = s.Authenticate(context.Background())
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("err = %v, want ErrDiscovery", err)
	}
}

func TestAuthenticateTokenFailure(t *testing.T) {
	f := newFakeEPG(t, "secret")
	// Discovery succeeds; the authorize endpoint answers with HTML instead
	// of JSON.
	f2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/EDS/jsp/AuthenticationURL" {
			w.Header().Set("Location", "http://"+r.Host+"/EPG/index.jsp")
			w.WriteHeader(http.StatusFound)
			return
		}
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer f2.Close()

	s := NewSession(Credentials{Username: "u", Password: "secret", MAC: "m"}, f.cipher,
		WithAuthURL(f2.URL+"/EDS/jsp/AuthenticationURL"),
		WithHTTPClient(f2.Client()),
		WithRateLimit(time.Microsecond))
	err := s.Authenticate(context.Background())
	if !errors.Is(err, ErrToken) {
		t.Fatalf("err = %v, want ErrToken", err)
	}
}

func TestDiscoverStripsPathAndQuery(t *testing.T) {
	f := newFakeEPG(t, "secret")
	s := f.session()
	base, err := s.discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	u, err := url.Parse(base)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "" || u.RawQuery != "" {
		t.Errorf("base %q retains path or query", base)
	}
}
