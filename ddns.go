package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// New creates an Updater keeping the record named record, in the zone named zone, pointed at the current IP.
//
// Names are matched exactly against what the provider reports,
// so record is normally a fully qualified name such as "home.example.com".
func New(zone, record string, options ...clientOption) (*Updater, error) {
	if zone == "" {
		return nil, errors.New("cfddns.New: zone cannot be empty")
	}
	if record == "" {
		return nil, errors.New("cfddns.New: record cannot be empty")
	}
	u := &Updater{
		zone:   zone,
		record: record,
	}
	for i, opt := range options {
		if err := opt(u); err != nil {
			return nil, fmt.Errorf("cfddns.New: option %d returned an error: %w", i, err)
		}
	}

	if u.provider == nil {
		return nil, errors.New("cfddns.New: no DNS provider was registered and there is no default option - use cfddns.UsingCloudflare or similar")
	}
	if u.resolver == nil {
		r, err := WebResolver(DefaultProviders...)
		if err != nil {
			return nil, fmt.Errorf("cfddns.New: %w", err)
		}
		u.resolver = r
	}
	// same for an HTTP client set before the provider or resolver
	if u.httpClient != nil {
		UsingHTTPClient(u.httpClient)(u)
	}

	// this lets us propagate the logger to dependencies that use one if WithLogger was called before all of the dependencies were registered
	withLogger(u.logger)(u)
	return u, nil
}

type clientOption func(*Updater) error

// UsingCloudflare registers the Cloudflare API, authenticated with token, as the DNS provider.
func UsingCloudflare(token string, options ...CloudflareOption) clientOption {
	return func(u *Updater) (err error) {
		if u.provider, err = NewCloudflare(token, options...); err != nil {
			return fmt.Errorf("cfddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingProvider registers any Provider implementation.
func UsingProvider(provider Provider) clientOption {
	return func(u *Updater) error {
		if provider == nil {
			return errors.New("provider cannot be nil")
		}
		u.provider = provider
		return nil
	}
}

// UsingResolver sets how the current IP is discovered.
// A nil resolver selects the web resolver over DefaultProviders.
func UsingResolver(resolver Resolver) clientOption {
	return func(u *Updater) error {
		u.resolver = resolver
		return nil
	}
}

func UsingWebResolver(serviceURL ...string) clientOption {
	return func(u *Updater) error {
		r, err := WebResolver(serviceURL...)
		if err != nil {
			return err
		}
		u.resolver = r
		return nil
	}
}

func withLogger(logger *zap.Logger) clientOption {
	return func(u *Updater) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		u.logger = logger
		type setLogger interface {
			SetLogger(*zap.Logger)
		}
		if p, ok := u.provider.(setLogger); ok {
			p.SetLogger(logger)
		}
		if r, ok := u.resolver.(setLogger); ok {
			r.SetLogger(logger)
		}
		return nil
	}
}

func WithLogger(logger *zap.Logger) clientOption {
	return func(u *Updater) error {
		u.logger = logger
		return nil
	}
}

// UsingHTTPClient sets the HTTP client of the provider and resolver registered so far.
func UsingHTTPClient(httpclient *http.Client) clientOption {
	return func(u *Updater) error {
		if httpclient == nil {
			httpclient = NewHTTPClient(DefaultConnectTimeout, DefaultTimeout)
		}
		u.httpClient = httpclient
		type setHTTPClient interface {
			SetHTTPClient(*http.Client)
		}
		if r, ok := u.resolver.(setHTTPClient); ok {
			r.SetHTTPClient(httpclient)
		}
		if p, ok := u.provider.(setHTTPClient); ok {
			p.SetHTTPClient(httpclient)
		}
		return nil
	}
}

// DryRun makes Run stop short of changing the record.
func DryRun(enabled bool) clientOption {
	return func(u *Updater) error {
		u.dryRun = enabled
		return nil
	}
}

// Updater points a single DNS record at the current IP address.
type Updater struct {
	provider   Provider
	resolver   Resolver
	httpClient *http.Client
	logger     *zap.Logger
	zone       string
	record     string
	dryRun     bool
}

// Result describes what a run found and did.
type Result struct {
	Record  Record     // the record as it was read
	Address netip.Addr // the discovered address
	Changed bool       // the record was (or, in a dry run, would have been) updated
}

// Run performs one update cycle:
// resolve the zone, resolve the record, discover the current IP, and update the record only if it differs.
func (u *Updater) Run(ctx context.Context) (Result, error) {
	logger := u.logger.With(zap.String("run", uuid.NewString()))

	zoneID, err := u.provider.ZoneID(ctx, u.zone)
	if err != nil {
		return Result{}, fmt.Errorf("unable to get zone ID for %s: %w", u.zone, err)
	}
	logger.Debug("got zone ID", zap.String("zone", u.zone), zap.String("zone_id", string(zoneID)))

	record, err := u.provider.Record(ctx, zoneID, u.zone, u.record)
	if err != nil {
		return Result{}, fmt.Errorf("unable to get DNS record %s: %w", u.record, err)
	}
	logger.Debug("got DNS record", zap.String("record", record.Name), zap.Stringer("content", record.Content))

	ip, err := u.resolver.Resolve(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("error getting IP: %w", err)
	}
	logger.Debug("got current IP", zap.Stringer("ip", ip))

	res := Result{Record: record, Address: ip}
	if record.Content == ip {
		logger.Info("record is already up to date", zap.String("record", record.Name), zap.Stringer("ip", ip))
		return res, nil
	}
	if want := recordType(ip); want != record.Type {
		return res, fmt.Errorf("cannot point %s record %s at %s: address needs a %s record", record.Type, record.Name, ip, want)
	}

	res.Changed = true
	if u.dryRun {
		logger.Info("dry run: not updating record",
			zap.String("record", record.Name),
			zap.Stringer("from", record.Content),
			zap.Stringer("to", ip),
		)
		return res, nil
	}
	if err := u.provider.UpdateRecord(ctx, zoneID, record.ID, record.WithContent(ip)); err != nil {
		return res, fmt.Errorf("error updating %s with new IP: %w", record.Name, err)
	}
	logger.Info("updated record",
		zap.String("record", record.Name),
		zap.Stringer("from", record.Content),
		zap.Stringer("to", ip),
	)
	return res, nil
}
