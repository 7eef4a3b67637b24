package cfddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultProviders is the list of public IP services used when none are configured, in priority order.
//
// I'm not vouching for these services, but they do return the IP of the client connection.
// If possible, run your own and provide the URL instead.
var DefaultProviders = []string{
	"https://api.ipify.org",
	"https://icanhazip.com", // operated by Cloudflare since ~2021
	"https://checkip.amazonaws.com",
}

const maxIPResponseSize = 64 << 10

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and answer with a 2xx status
// and a body holding nothing but a valid IPv4 or IPv6 address (surrounding whitespace is ignored).
// All other responses are considered an error.
//
// The services are asked one at a time in the order given.
// The first usable answer wins and the remaining services are not contacted.
// If every service fails, the returned error wraps each service's failure in order.
func WebResolver(serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		if pu.Scheme != "http" && pu.Scheme != "https" {
			return nil, fmt.Errorf("IP lookup service %q must be an http or https URL", u)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{
		httpClient:  NewHTTPClient(DefaultConnectTimeout, DefaultTimeout),
		serviceURLs: URLs,
		logger:      zap.NewNop(),
	}, nil
}

type webResolver struct {
	httpClient  *http.Client
	serviceURLs []*url.URL
	logger      *zap.Logger
}

func (wr *webResolver) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wr.logger = logger
}

func (wr *webResolver) SetHTTPClient(httpclient *http.Client) {
	wr.httpClient = httpclient
}

// Resolve implements cfddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var errs error
	for _, u := range wr.serviceURLs {
		ip, err := wr.lookup(ctx, u)
		if err != nil {
			wr.logger.Debug("IP lookup failed", zap.Stringer("service", u), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		wr.logger.Debug("IP lookup succeeded", zap.Stringer("service", u), zap.Stringer("ip", ip))
		return ip, nil
	}
	return netip.Addr{}, fmt.Errorf("all %d IP lookup services failed: %w", len(wr.serviceURLs), errs)
}

func (wr *webResolver) lookup(ctx context.Context, url *url.URL) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the user supplied context.TODO or context.Background
	// using a client with no timeout.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPResponseSize))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body: %w", err)
	}
	if !utf8.Valid(body) {
		return netip.Addr{}, errors.New("response body is not valid UTF-8")
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	return ip, nil
}
