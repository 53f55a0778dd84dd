package actor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// tlsFetcher returns a fetcher whose client trusts the test server's
// certificate, bypassing the production transport's address guard.
func tlsFetcher(srv *httptest.Server) *HTTPFetcher {
	f := NewHTTPFetcher(5*time.Second, "arbor-test/1.0")
	f.client = srv.Client()
	return f
}

func actorDocJSON(t *testing.T, id, pemText string) []byte {
	t.Helper()
	doc := map[string]any{
		"id":                id,
		"preferredUsername": "bob",
		"inbox":             id + "/inbox",
		"publicKey": map[string]string{
			"id":           id + "#main-key",
			"owner":        id,
			"publicKeyPem": pemText,
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func TestFetchKey(t *testing.T) {
	pemText := testKeyPEM(t)

	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/activity+json", r.Header.Get("Accept"))
		assert.Equal(t, "arbor-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write(actorDocJSON(t, srv.URL+"/users/bob", pemText))
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	a, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/users/bob", a.URI)
	assert.Equal(t, "bob", a.Username)
	assert.Equal(t, pemText, a.PublicKeyPEM)
	assert.NotNil(t, a.PublicKey)
	assert.False(t, a.FetchedAt.IsZero())
	assert.False(t, a.Local)
}

func TestFetchKey_HostMismatch(t *testing.T) {
	pemText := testKeyPEM(t)

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The document claims to live on a different host.
		w.Write(actorDocJSON(t, "https://impostor.example/users/bob", pemText))
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	_, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHostValidation, fe.Kind)
}

func TestFetchKey_RejectsNonHTTPS(t *testing.T) {
	f := NewHTTPFetcher(time.Second, "")

	_, err := f.FetchKey(context.Background(), "http://remote.example/users/bob")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHostValidation, fe.Kind)
	assert.False(t, IsTransient(err))
}

func TestFetchKey_MalformedURI(t *testing.T) {
	f := NewHTTPFetcher(time.Second, "")

	_, err := f.FetchKey(context.Background(), "://nope")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHostValidation, fe.Kind)
}

func TestFetchKey_MissingKeyInDocument(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q}`, srv.URL+"/users/bob")
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	_, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUnexpectedResponse, fe.Kind)
	assert.False(t, IsTransient(err))
}

func TestFetchKey_GoneActorIsNotFound(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	_, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchKey_ServerErrorIsUnexpectedResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	_, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUnexpectedResponse, fe.Kind)
}

func TestFetchKey_ObserveReceivesDuration(t *testing.T) {
	pemText := testKeyPEM(t)

	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(actorDocJSON(t, srv.URL+"/users/bob", pemText))
	}))
	defer srv.Close()

	var observed int
	f := tlsFetcher(srv)
	f.Observe = func(d time.Duration) { observed++ }

	_, err := f.FetchKey(context.Background(), srv.URL+"/users/bob")
	require.NoError(t, err)
	assert.Equal(t, 1, observed)
}

func TestResolveAccount(t *testing.T) {
	pemText := testKeyPEM(t)

	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/webfinger":
			assert.Contains(t, r.URL.RawQuery, url.QueryEscape("acct:bob@"))
			fmt.Fprintf(w, `{"subject":"acct:bob@x","links":[
				{"rel":"http://webfinger.net/rel/profile-page","type":"text/html","href":"%s/@bob"},
				{"rel":"self","type":"application/activity+json","href":"%s/users/bob"}]}`,
				srv.URL, srv.URL)
		case "/users/bob":
			w.Write(actorDocJSON(t, srv.URL+"/users/bob", pemText))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	host := mustHost(t, srv.URL)

	a, err := f.ResolveAccount(context.Background(), "bob@"+host)
	require.NoError(t, err)
	assert.Equal(t, "bob", a.Username)
	assert.NotNil(t, a.PublicKey)
}

func TestResolveAccount_NoActorLink(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"subject":"acct:bob@x","links":[]}`)
	}))
	defer srv.Close()

	f := tlsFetcher(srv)
	_, err := f.ResolveAccount(context.Background(), "bob@"+mustHost(t, srv.URL))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAccount_MalformedHandle(t *testing.T) {
	f := NewHTTPFetcher(time.Second, "")
	_, err := f.ResolveAccount(context.Background(), "nodomain")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHostValidation, fe.Kind)
}

// mustHost extracts host:port from a test server URL so webfinger requests
// route back to it.
func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Host
}

func TestIsForbiddenAddress(t *testing.T) {
	forbidden := []string{"127.0.0.1", "::1", "10.1.2.3", "192.168.0.5", "172.16.9.9", "169.254.1.1", "0.0.0.0"}
	for _, s := range forbidden {
		assert.True(t, isForbiddenAddress(net.ParseIP(s)), s)
	}

	allowed := []string{"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"}
	for _, s := range allowed {
		assert.False(t, isForbiddenAddress(net.ParseIP(s)), s)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	t.Run("existing classification preserved", func(t *testing.T) {
		in := fetchErrorf(KindPrivateAddress, "", "guarded")
		out := classifyTransportError("https://x", fmt.Errorf("wrapped: %w", in))
		var fe *FetchError
		require.ErrorAs(t, out, &fe)
		assert.Equal(t, KindPrivateAddress, fe.Kind)
	})

	t.Run("net timeout", func(t *testing.T) {
		out := classifyTransportError("https://x", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}})
		var fe *FetchError
		require.ErrorAs(t, out, &fe)
		assert.Equal(t, KindTimeout, fe.Kind)
		assert.True(t, IsTransient(out))
	})

	t.Run("context deadline", func(t *testing.T) {
		out := classifyTransportError("https://x", context.DeadlineExceeded)
		var fe *FetchError
		require.ErrorAs(t, out, &fe)
		assert.Equal(t, KindTimeout, fe.Kind)
	})

	t.Run("unknown authority", func(t *testing.T) {
		out := classifyTransportError("https://x", &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}})
		var fe *FetchError
		require.ErrorAs(t, out, &fe)
		assert.Equal(t, KindTLS, fe.Kind)
		assert.True(t, IsTransient(out))
	})

	t.Run("plain refusal", func(t *testing.T) {
		out := classifyTransportError("https://x", errors.New("connection refused"))
		var fe *FetchError
		require.ErrorAs(t, out, &fe)
		assert.Equal(t, KindTransport, fe.Kind)
		assert.True(t, IsTransient(out))
	})
}
