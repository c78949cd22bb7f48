// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package resolve discovers the endpoints on which an XMPP service accepts
// client connections.
//
// Endpoints come from SRV records (RFC 6120 §3.2 and XEP-0368) and from the
// Web Host Metadata document (RFC 7395 §4). Every call to Resolve performs a
// fresh lookup; nothing is cached between calls.
package resolve // import "mellium.im/client/resolve"

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/net/idna"

	"mellium.im/client/transport"
)

const (
	wsRel       = "urn:xmpp:alt-connections:websocket"
	hostMetaXML = "/.well-known/host-meta"

	// DefaultPort is the port used to connect to a domain directly when
	// nothing else is known about it.
	DefaultPort = 5222

	// DefaultTLSPort is the conventional port for direct TLS.
	DefaultTLSPort = 5223
)

// Error is returned when no endpoint could be found for a domain.
type Error struct {
	Domain string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve: no XMPP service found at %s", e.Domain)
	}
	return fmt.Sprintf("resolve: no XMPP service found at %s: %v", e.Domain, e.Err)
}

// Unwrap returns the last lookup error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// XRD represents an Extensible Resource Descriptor document of the form:
//
//	<XRD xmlns='http://docs.oasis-open.org/ns/xri/xrd-1.0'>
//	  <Link rel="urn:xmpp:alt-connections:websocket"
//	        href="wss://web.example.com:443/ws" />
//	</XRD>
//
// as defined by RFC 6415 and OASIS.XRD-1.0.
type XRD struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Links   []Link   `xml:"Link"`
}

// Link is an individual hyperlink in an XRD document.
type Link struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Resolver looks up endpoints.
// The zero value uses net.DefaultResolver and http.DefaultClient.
type Resolver struct {
	// LookupSRV replaces net.DefaultResolver.LookupSRV.
	LookupSRV func(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)

	// HTTPClient is used to fetch the host-meta document.
	HTTPClient *http.Client

	// Logger receives lookup failures that are recovered from.
	Logger log.Logger
}

func (r *Resolver) lookupSRV(ctx context.Context, service, domain string) ([]*net.SRV, error) {
	lookup := r.LookupSRV
	if lookup == nil {
		lookup = net.DefaultResolver.LookupSRV
	}
	_, addrs, err := lookup(ctx, service, "tcp", domain)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		return FallbackRecords(service, domain), nil
	}

	// RFC 6120 §3.2.1: a single record with a target of "." means that the
	// service is decidedly not available at this domain.
	if len(addrs) == 1 && addrs[0].Target == "." {
		return nil, nil
	}
	return addrs, nil
}

func (r *Resolver) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

// Resolve returns the candidate endpoints for domain in the order in which
// they should be tried: the direct TLS and plain TCP SRV targets merged by
// record priority (XEP-0368 §3), direct TLS first among equal priorities,
// then WebSocket URLs with secure URLs first.
// If kinds is not empty, only endpoints of those kinds are returned and the
// host-meta document is only fetched when WebSocket is among them.
func (r *Resolver) Resolve(ctx context.Context, domain string, kinds ...transport.Kind) ([]transport.Endpoint, error) {
	domain, err := Normalize(domain)
	if err != nil {
		return nil, &Error{Domain: domain, Err: err}
	}
	allowed := func(k transport.Kind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, a := range kinds {
			if a == k {
				return true
			}
		}
		return false
	}

	type record struct {
		kind transport.Kind
		addr *net.SRV
	}
	var records []record
	var lastErr error
	for _, svc := range []struct {
		name string
		kind transport.Kind
	}{
		{"xmpps-client", transport.TLS},
		{"xmpp-client", transport.TCP},
	} {
		if !allowed(svc.kind) {
			continue
		}
		addrs, err := r.lookupSRV(ctx, svc.name, domain)
		if err != nil {
			level.Debug(r.logger()).Log("msg", "SRV lookup failed", "service", svc.name, "domain", domain, "err", err)
			lastErr = err
			continue
		}
		for _, addr := range addrs {
			records = append(records, record{kind: svc.kind, addr: addr})
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].addr.Priority < records[j].addr.Priority
	})
	eps := make([]transport.Endpoint, 0, len(records))
	for _, rec := range records {
		eps = append(eps, transport.Endpoint{
			Kind:   rec.kind,
			Host:   strings.TrimSuffix(rec.addr.Target, "."),
			Port:   rec.addr.Port,
			Domain: domain,
		})
	}

	if allowed(transport.WebSocket) {
		urls, err := r.LookupWebSocket(ctx, domain)
		if err != nil {
			level.Debug(r.logger()).Log("msg", "host-meta lookup failed", "domain", domain, "err", err)
			lastErr = err
		}
		for _, u := range urls {
			eps = append(eps, transport.Endpoint{Kind: transport.WebSocket, URL: u, Domain: domain})
		}
	}

	if len(eps) == 0 {
		return nil, &Error{Domain: domain, Err: lastErr}
	}
	return eps, nil
}

// LookupWebSocket discovers WebSocket endpoints using Web Host Metadata as
// described in RFC 7395.
// Only ws and wss URLs are returned, secure URLs first.
func (r *Resolver) LookupWebSocket(ctx context.Context, domain string) ([]string, error) {
	xrd, err := r.getHostMetaXML(ctx, "https://"+domain+hostMetaXML)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, link := range xrd.Links {
		if link.Rel != wsRel {
			continue
		}
		if strings.HasPrefix(link.Href, "wss:") || strings.HasPrefix(link.Href, "ws:") {
			urls = append(urls, link.Href)
		}
	}
	sort.SliceStable(urls, func(i, j int) bool {
		return strings.HasPrefix(urls[i], "wss:") && !strings.HasPrefix(urls[j], "wss:")
	})
	return urls, nil
}

func (r *Resolver) getHostMetaXML(ctx context.Context, name string) (xrd XRD, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, name, nil)
	if err != nil {
		return xrd, err
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return xrd, err
	}
	/* #nosec */
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return xrd, errors.Errorf("resolve: host-meta returned %s", resp.Status)
	}
	// If the server sends us a lot of data it's probably good to just error out.
	body := io.LimitReader(resp.Body, http.DefaultMaxHeaderBytes)
	err = xml.NewDecoder(body).Decode(&xrd)
	return xrd, err
}

// FallbackRecords returns fake SRV records for the service that can be used
// if no actual SRV records can be found but we believe that an XMPP service
// exists at the given domain.
func FallbackRecords(service, domain string) []*net.SRV {
	switch service {
	case "xmpp-client":
		return []*net.SRV{{Target: domain, Port: DefaultPort}}
	case "xmpps-client":
		return []*net.SRV{{Target: domain, Port: DefaultTLSPort}}
	}
	return nil
}

// Direct returns the endpoint used when resolution fails: a plain TCP
// connection to the domain on the default port.
func Direct(domain string) transport.Endpoint {
	return transport.Endpoint{Kind: transport.TCP, Host: domain, Port: DefaultPort, Domain: domain}
}

// Normalize converts an internationalized domain to its ASCII form and
// strips any trailing dot.
func Normalize(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return "", errors.New("resolve: empty domain")
	}
	if ip := net.ParseIP(strings.Trim(domain, "[]")); ip != nil {
		return domain, nil
	}
	a, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return domain, errors.Wrap(err, "resolve: invalid domain")
	}
	return a, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
