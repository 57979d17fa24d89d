package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/mubot/mu/internal/log"
)

// FetchWebpageName is the registered name of the webpage fetch tool.
const FetchWebpageName = "fetch_webpage"

const (
	// maxFetchBytes caps the raw response body read from the network.
	maxFetchBytes int64 = 2 << 20

	// maxContentLen caps the extracted text handed back to the model.
	maxContentLen = 48_000

	fetchTimeout   = 30 * time.Second
	fetchMaxHops   = 5
	fetchUserAgent = "mu-bot/1.0 (+https://github.com/mubot/mu)"
)

// FetchWebpageInput is the model-facing input of fetch_webpage.
type FetchWebpageInput struct {
	URL string `json:"url" jsonschema:"The http(s) URL of the page to fetch"`
}

// FetchWebpageOutput is the result payload of fetch_webpage.
type FetchWebpageOutput struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// HTTPValidator supplies the vetted HTTP access used by fetch_webpage.
// *WebGuard satisfies it; tests substitute a permissive implementation.
type HTTPValidator interface {
	ValidateURL(rawURL string) error
	Client() *http.Client
	MaxResponseSize() int64
}

// NewFetchWebpage builds the fetch_webpage tool over v.
func NewFetchWebpage(v HTTPValidator, logger log.Logger) (Handler, error) {
	if v == nil {
		return nil, fmt.Errorf("http validator is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return New(FetchWebpageName,
		"Fetch a webpage and return its readable text content. "+
			"Extracts the main article body, stripping navigation, scripts and ads. "+
			"Returns: page title and plain-text content, truncated when very long. "+
			"Blocks private addresses, localhost and cloud metadata endpoints.",
		func(ctx context.Context, in FetchWebpageInput) (FetchWebpageOutput, error) {
			if err := v.ValidateURL(in.URL); err != nil {
				logger.Warn("fetch blocked", "url", in.URL, "error", err)
				return FetchWebpageOutput{}, fmt.Errorf("url rejected: %w", err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return FetchWebpageOutput{}, fmt.Errorf("building request: %w", err)
			}
			req.Header.Set("User-Agent", fetchUserAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml")

			resp, err := v.Client().Do(req)
			if err != nil {
				logger.Warn("fetch failed", "url", in.URL, "error", err)
				return FetchWebpageOutput{}, fmt.Errorf("fetching %s: %w", in.URL, err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return FetchWebpageOutput{}, fmt.Errorf("fetching %s: unexpected status %s", in.URL, resp.Status)
			}

			maxSize := v.MaxResponseSize()
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
			if err != nil {
				return FetchWebpageOutput{}, fmt.Errorf("reading %s: %w", in.URL, err)
			}

			title, content := extractReadableText(body, resp.Request.URL)
			out := FetchWebpageOutput{URL: in.URL, Title: title, Content: content}
			if len(out.Content) > maxContentLen {
				out.Content = truncateAtRune(out.Content, maxContentLen)
				out.Truncated = true
			}

			logger.Debug("fetched webpage",
				"url", in.URL, "status", resp.StatusCode,
				"content_length", len(out.Content), "truncated", out.Truncated)
			return out, nil
		})
}

var collapseWhitespace = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)

// extractReadableText pulls the main text out of an HTML document.
// Readability extraction comes first; when it cannot find an article the
// whole body text is used instead so the model still sees something.
func extractReadableText(body []byte, pageURL *url.URL) (title, content string) {
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		title = strings.TrimSpace(article.Title)
		content = strings.TrimSpace(article.TextContent)
		if content != "" {
			return title, collapseWhitespace.ReplaceAllString(content, "\n")
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", strings.TrimSpace(string(body))
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	doc.Find("script, style, noscript, iframe").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	content = strings.TrimSpace(doc.Find("body").Text())
	return title, collapseWhitespace.ReplaceAllString(content, "\n")
}

// truncateAtRune cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

// WebGuard vets outbound webpage fetches.
//
// Blocked targets:
//   - Private IP ranges (RFC 1918): 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16
//   - Loopback: 127.0.0.0/8, ::1
//   - Link-local: 169.254.0.0/16, fe80::/10
//   - Cloud metadata: 169.254.169.254
//   - Known dangerous hostnames: localhost, metadata.google.internal
//
// Resolved addresses are re-checked at dial time, so DNS rebinding cannot
// smuggle a fetch past the hostname check.
type WebGuard struct {
	allowedSchemes map[string]struct{}
	blockedHosts   map[string]struct{}
	client         *http.Client
}

// NewWebGuard creates a WebGuard with default protections.
func NewWebGuard() *WebGuard {
	g := &WebGuard{
		allowedSchemes: map[string]struct{}{
			"http":  {},
			"https": {},
		},
		blockedHosts: map[string]struct{}{
			"localhost":                {},
			"metadata.google.internal": {},
			"metadata.gce.internal":    {},
			"metadata.internal":        {},
		},
	}
	g.client = &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			DialContext:         g.dialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: g.checkRedirect,
	}
	return g
}

// ValidateURL checks whether a URL is safe to fetch.
//
// This is static validation only. The resolved IPs are validated again in
// dialContext, which is where DNS rebinding gets caught.
func (g *WebGuard) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if _, ok := g.allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return fmt.Errorf("unsupported scheme: %q (allowed: http, https)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	return g.validateHost(host)
}

// Client returns the HTTP client with guarded dialing and redirects.
func (g *WebGuard) Client() *http.Client {
	return g.client
}

// MaxResponseSize returns the raw body cap in bytes.
func (g *WebGuard) MaxResponseSize() int64 {
	return maxFetchBytes
}

func (g *WebGuard) validateHost(host string) error {
	if _, blocked := g.blockedHosts[strings.ToLower(host)]; blocked {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip)
	}
	// Hostname, not a literal IP. Resolution is checked in dialContext.
	return nil
}

func (g *WebGuard) checkIP(ip net.IP) error {
	// Normalize IPv6-mapped IPv4 addresses (::ffff:127.0.0.1 -> 127.0.0.1).
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address not allowed: %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private IP not allowed: %s", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address not allowed: %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed: %s", ip)
	}
	return nil
}

// dialContext validates resolved IPs before connecting.
func (g *WebGuard) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := g.checkIP(ip); err != nil {
			return nil, fmt.Errorf("fetch blocked: %w", err)
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return nil, fmt.Errorf("fetch blocked (resolved %s -> %s): %w", host, ip, err)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses resolved for %s", host)
	}

	// Dial the vetted IP directly to avoid a second, unchecked resolution.
	target := ips[0].String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}

func (g *WebGuard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= fetchMaxHops {
		return fmt.Errorf("stopped after %d redirects", fetchMaxHops)
	}
	if err := g.ValidateURL(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to unsafe URL: %w", err)
	}
	return nil
}
