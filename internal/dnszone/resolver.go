package dnszone

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers TXT lookups during propagation checks
type Resolver interface {
	LookupTXT(ctx context.Context, fqdn string) ([]string, error)
}

// NetResolver queries a fixed set of recursive nameservers directly, so
// propagation checks are not short-circuited by the host's stub resolver
// cache.
type NetResolver struct {
	nameservers []string
	client      *dns.Client
}

// NewNetResolver creates a resolver querying the given nameservers
// (host:port). The first server that answers wins.
func NewNetResolver(nameservers []string) *NetResolver {
	return &NetResolver{
		nameservers: nameservers,
		client: &dns.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// LookupTXT returns all TXT values for fqdn from the first responding
// nameserver. A clean NXDOMAIN/empty answer returns an empty slice and no
// error.
func (r *NetResolver) LookupTXT(ctx context.Context, fqdn string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, ns := range r.nameservers {
		in, _, err := r.client.ExchangeContext(ctx, msg, ns)
		if err != nil {
			lastErr = err
			continue
		}

		var values []string
		for _, rr := range in.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				values = append(values, joinTXT(txt.Txt))
			}
		}
		return values, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all nameservers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("no nameservers configured")
}

// joinTXT reassembles a TXT record split into 255-byte chunks
func joinTXT(chunks []string) string {
	joined := ""
	for _, c := range chunks {
		joined += c
	}
	return joined
}
