package actor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPFetcher resolves remote actors over HTTPS: actor documents for key
// URIs and webfinger lookups for acct: handles. Targets resolving to
// private, loopback or link-local addresses are refused before any
// connection is made.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	now       func() time.Time
	// Observe, if set, receives the duration of every completed fetch.
	Observe func(d time.Duration)
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if isForbiddenAddress(ip.IP) {
					return nil, fetchErrorf(KindPrivateAddress, "",
						"%s resolves to private address %s", host, ip.IP)
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
		TLSHandshakeTimeout: timeout,
	}

	return &HTTPFetcher{
		client:    &http.Client{Transport: transport, Timeout: timeout},
		userAgent: userAgent,
		timeout:   timeout,
		now:       time.Now,
	}
}

func isForbiddenAddress(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// actorDocument is the subset of a remote actor profile we need for
// signature verification.
type actorDocument struct {
	ID                string `json:"id"`
	PreferredUsername string `json:"preferredUsername"`
	Inbox             string `json:"inbox"`
	PublicKey         struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// FetchKey fetches the actor document at keyURI and extracts its public key.
func (f *HTTPFetcher) FetchKey(ctx context.Context, keyURI string) (*Actor, error) {
	u, err := url.Parse(keyURI)
	if err != nil || u.Hostname() == "" {
		return nil, fetchErrorf(KindHostValidation, keyURI, "malformed target URI")
	}
	if u.Scheme != "https" {
		return nil, fetchErrorf(KindHostValidation, keyURI, "scheme %q not allowed, https required", u.Scheme)
	}

	start := f.now()
	body, err := f.get(ctx, keyURI, "application/activity+json")
	if f.Observe != nil {
		f.Observe(f.now().Sub(start))
	}
	if err != nil {
		return nil, err
	}

	var doc actorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fetchErrorf(KindUnexpectedResponse, keyURI, "decoding actor document: %v", err)
	}
	if doc.ID == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fetchErrorf(KindUnexpectedResponse, keyURI, "actor document has no public key")
	}

	key, err := ParseRSAPublicKeyPEM(doc.PublicKey.PublicKeyPem)
	if err != nil {
		return nil, fetchErrorf(KindUnexpectedResponse, keyURI, "unusable public key: %v", err)
	}

	docURL, err := url.Parse(doc.ID)
	if err != nil || docURL.Hostname() == "" {
		return nil, fetchErrorf(KindUnexpectedResponse, keyURI, "actor document has malformed id %q", doc.ID)
	}
	// The document must not impersonate another host.
	if docURL.Hostname() != u.Hostname() {
		return nil, fetchErrorf(KindHostValidation, keyURI,
			"actor document id %s is not on host %s", doc.ID, u.Hostname())
	}

	return &Actor{
		URI:          doc.ID,
		Username:     doc.PreferredUsername,
		Domain:       docURL.Hostname(),
		Inbox:        doc.Inbox,
		PublicKeyPEM: doc.PublicKey.PublicKeyPem,
		PublicKey:    key,
		FetchedAt:    f.now(),
	}, nil
}

// RefreshKey re-fetches the actor's profile document.
func (f *HTTPFetcher) RefreshKey(ctx context.Context, a *Actor) (*Actor, error) {
	return f.FetchKey(ctx, a.URI)
}

// webfingerResponse is the subset of RFC 7033 we consume.
type webfingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveAccount resolves a "user@domain" handle via webfinger and then
// fetches the linked actor document.
func (f *HTTPFetcher) ResolveAccount(ctx context.Context, handle string) (*Actor, error) {
	_, domain, ok := strings.Cut(handle, "@")
	if !ok || domain == "" {
		return nil, fetchErrorf(KindHostValidation, handle, "malformed account handle")
	}

	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domain, url.QueryEscape("acct:"+handle))

	body, err := f.get(ctx, wfURL, "application/jrd+json")
	if err != nil {
		return nil, err
	}

	var wf webfingerResponse
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fetchErrorf(KindUnexpectedResponse, wfURL, "decoding webfinger response: %v", err)
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && strings.Contains(link.Type, "activity+json") && link.Href != "" {
			return f.FetchKey(ctx, link.Href)
		}
	}
	return nil, fmt.Errorf("webfinger for %s has no actor link: %w", handle, ErrNotFound)
}

func (f *HTTPFetcher) get(ctx context.Context, target, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fetchErrorf(KindHostValidation, target, "building request: %v", err)
	}
	req.Header.Set("Accept", accept)
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("GET %s: status %d: %w", target, resp.StatusCode, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetchErrorf(KindUnexpectedResponse, target, "unexpected status %d", resp.StatusCode)
	}

	body, err := readAll(resp)
	if err != nil {
		return nil, classifyTransportError(target, err)
	}
	return body, nil
}

// Remote documents larger than this are cut off; an actor profile is tiny.
const maxResponseBytes = 1 << 20

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// classifyTransportError maps a client error onto a fetch-error kind,
// keeping an already classified error (e.g. the private-address guard)
// as is.
func classifyTransportError(target string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fetchErrorf(KindTimeout, target, "request timed out: %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fetchErrorf(KindTimeout, target, "request timed out: %v", err)
	}

	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &authErr) {
		return fetchErrorf(KindTLS, target, "TLS verification failed: %v", err)
	}

	return fetchErrorf(KindTransport, target, "transport failure: %v", err)
}
