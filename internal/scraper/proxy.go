package scraper

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gocolly/colly/v2/proxy"
)

// ProxyFunc picks the proxy for one outgoing request. A nil URL means direct.
type ProxyFunc func(*http.Request) (*url.URL, error)

// ProxyConfig lists every proxy source. Precedence: Explicit, then the
// rotating List, then HTTPSProxy for https requests, then HTTPProxy.
type ProxyConfig struct {
	Explicit   string
	List       []string
	File       string
	HTTPSProxy string
	HTTPProxy  string
}

// LoadProxyFile reads one proxy per line, skipping blanks and # comments.
func LoadProxyFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer f.Close()

	var proxies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy file: %w", err)
	}
	return proxies, nil
}

// Rotating returns the proxy list with PROXY_FILE entries first.
func (c ProxyConfig) Rotating() ([]string, error) {
	var proxies []string
	if c.File != "" {
		fromFile, err := LoadProxyFile(c.File)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, fromFile...)
	}
	for _, p := range c.List {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies, nil
}

// ProxyFunc builds the selector for an http.Transport. It returns nil when
// no proxy is configured at all.
func (c ProxyConfig) ProxyFunc() (ProxyFunc, error) {
	if explicit := strings.TrimSpace(c.Explicit); explicit != "" {
		u, err := url.Parse(explicit)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", explicit, err)
		}
		return http.ProxyURL(u), nil
	}

	rotating, err := c.Rotating()
	if err != nil {
		return nil, err
	}
	if len(rotating) > 0 {
		rp, err := proxy.RoundRobinProxySwitcher(rotating...)
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy switcher: %w", err)
		}
		return ProxyFunc(rp), nil
	}

	var httpsProxy, httpProxy *url.URL
	if c.HTTPSProxy != "" {
		if httpsProxy, err = url.Parse(c.HTTPSProxy); err != nil {
			return nil, fmt.Errorf("invalid HTTPS_PROXY: %w", err)
		}
	}
	if c.HTTPProxy != "" {
		if httpProxy, err = url.Parse(c.HTTPProxy); err != nil {
			return nil, fmt.Errorf("invalid HTTP_PROXY: %w", err)
		}
	}
	if httpsProxy == nil && httpProxy == nil {
		return nil, nil
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != nil {
			return httpsProxy, nil
		}
		return httpProxy, nil
	}, nil
}

// Describe names the proxy mode for logs without leaking credentials.
func (c ProxyConfig) Describe() string {
	switch {
	case strings.TrimSpace(c.Explicit) != "":
		return "explicit"
	case c.File != "" || len(c.List) > 0:
		return "rotating"
	case c.HTTPSProxy != "" || c.HTTPProxy != "":
		return "environment"
	default:
		return "direct"
	}
}
