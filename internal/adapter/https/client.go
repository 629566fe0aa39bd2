// Package https reads the granule tree from the PPS HTTPS server
// (https://arthurhouhttps.pps.eosdis.nasa.gov) using HTTP basic auth and the
// server's HTML directory indexes.
package https

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
	"github.com/couchcryptid/gpm-precip-etl/internal/fetcher"
)

// DefaultHost is the PPS HTTPS endpoint for registered users.
const DefaultHost = "arthurhouhttps.pps.eosdis.nasa.gov"

// Client implements fetcher.Source over HTTPS.
type Client struct {
	baseURL    string
	creds      domain.Credentials
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for host. host may be a bare name, which is
// reached over https, or a full base URL.
func NewClient(host string, creds domain.Credentials, timeout time.Duration, logger *slog.Logger) *Client {
	if host == "" {
		host = DefaultHost
	}
	base := host
	if !strings.Contains(host, "://") {
		base = "https://" + host
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// List parses the HTML index of dir and returns the linked entry names.
func (c *Client) List(ctx context.Context, dir string) ([]string, error) {
	resp, err := c.get(ctx, strings.TrimRight(dir, "/")+"/")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	names, err := parseIndex(dir, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index of %s: %w", dir, err)
	}
	return names, nil
}

// Retrieve streams the file at p into w.
func (c *Client) Retrieve(ctx context.Context, p string, w io.Writer) error {
	resp, err := c.get(ctx, p)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) get(ctx context.Context, p string) (*http.Response, error) {
	u := c.baseURL + (&url.URL{Path: path.Clean("/" + p)}).EscapedPath()
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %w", p, fetcher.ErrNotExist)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d: %s", p, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// parseIndex extracts the names of the entries linked from an Apache-style
// directory listing of dir. Links that do not point directly inside dir
// (sorting links, the parent directory, other sites) are skipped and
// directories lose their trailing slash.
func parseIndex(dir string, r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	base := &url.URL{Path: path.Clean("/"+dir) + "/"}

	var names []string
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if name, ok := entryName(base, a.Val); ok && !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return names, nil
}

func entryName(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil || ref.RawQuery != "" || ref.Opaque != "" {
		return "", false
	}
	p := base.ResolveReference(ref).Path
	p = path.Clean(p)
	if path.Dir(p) != path.Clean(base.Path) {
		return "", false
	}
	return path.Base(p), true
}
