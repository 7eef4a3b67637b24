package cfddns

import (
	"context"
	"net/netip"
)

// Resolver looks up the address that the DNS record should point at.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

// Resolve implements cfddns.Resolver.
func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) {
	return f(ctx)
}

// Provider is a DNS management API holding the record to keep updated.
//
// Zone and record lookups are by exact name and must match exactly one entity.
type Provider interface {
	ZoneID(ctx context.Context, name string) (ZoneID, error)
	Record(ctx context.Context, zone ZoneID, zoneName string, name string) (Record, error)
	UpdateRecord(ctx context.Context, zone ZoneID, id RecordID, record Record) error
}

// ZoneID is the provider-assigned identifier of a DNS zone.
type ZoneID string

// RecordID is the provider-assigned identifier of a single record within a zone.
type RecordID string

// Record is a DNS record whose content has been validated as an IP address.
type Record struct {
	ID      RecordID
	Type    string
	Name    string
	Content netip.Addr
	TTL     int
	Proxied bool
}

// WithContent returns a copy of r pointing at addr.
// Every other field is left as it was read from the provider.
func (r Record) WithContent(addr netip.Addr) Record {
	r.Content = addr
	return r
}

func recordType(a netip.Addr) string {
	if a.Is4() {
		return "A"
	}
	if a.Is6() {
		return "AAAA"
	}
	return ""
}
