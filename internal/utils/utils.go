// Package utils holds the small IP/hostname helpers internal/render's
// optional diagnostic enrichment uses: reverse DNS, GeoIP, and the CDN
// base-domain/hostname normalization that makes a resolved PTR record
// readable.
package utils

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/oschwald/geoip2-golang"
)

// GeoLocation represents geolocation information
type GeoLocation struct {
	Country string
	City    string
	ASN     uint
	ISP     string
}

// GetGeoLocation gets geolocation information for an IP address
func GetGeoLocation(ipAddress, dbPath string) (*GeoLocation, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	defer db.Close()

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipAddress)
	}

	city, err := db.City(ip)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup IP: %w", err)
	}

	geo := &GeoLocation{
		Country: city.Country.Names["en"],
		City:    city.City.Names["en"],
	}

	// Try to get ISP info if available
	if city.Traits.IsAnonymousProxy {
		geo.ISP = "Anonymous Proxy"
	} else if city.Traits.IsSatelliteProvider {
		geo.ISP = "Satellite Provider"
	}

	return geo, nil
}

// GetReverseDNS performs reverse DNS lookup
func GetReverseDNS(ipAddress string, nameservers []string, timeoutSec int) (string, error) {
	c := dns.Client{
		Timeout: time.Duration(timeoutSec) * time.Second,
	}

	// Create reverse DNS query
	addr, err := dns.ReverseAddr(ipAddress)
	if err != nil {
		return "", fmt.Errorf("failed to create reverse address: %w", err)
	}

	m := new(dns.Msg)
	m.SetQuestion(addr, dns.TypePTR)

	// Try each nameserver
	for _, ns := range nameservers {
		server := ns
		if !strings.Contains(server, ":") {
			server = server + ":53"
		}

		r, _, err := c.Exchange(m, server)
		if err != nil {
			continue
		}

		if r.Rcode != dns.RcodeSuccess {
			continue
		}

		for _, ans := range r.Answer {
			if ptr, ok := ans.(*dns.PTR); ok {
				hostname := strings.TrimSuffix(ptr.Ptr, ".")
				return hostname, nil
			}
		}
	}

	return "", fmt.Errorf("no PTR records found")
}

// GetBaseDomain extracts base domain from hostname
func GetBaseDomain(hostname string) string {
	if hostname == "" {
		return ""
	}

	parts := strings.Split(hostname, ".")
	if len(parts) < 2 {
		return hostname
	}

	// Handle special cases like Akamai CDN (e.g., "e3191.c.akamaiedge.net" -> "c.akamaiedge.net")
	if len(parts) >= 3 && parts[len(parts)-2] == "akamaiedge" {
		return strings.Join(parts[len(parts)-3:], ".")
	}

	// Handle other special CDN cases
	specialCases := map[string]int{
		"cloudfront.net": 3, // xxx.cloudfront.net
		"fastly.com":     3, // xxx.fastly.com
		"herokuapp.com":  3, // xxx.herokuapp.com
	}

	domain := strings.Join(parts[len(parts)-2:], ".")
	if extraParts, exists := specialCases[domain]; exists && len(parts) >= extraParts {
		return strings.Join(parts[len(parts)-extraParts:], ".")
	}

	// Return last two parts (e.g., "example.com" from "mail.example.com")
	return domain
}

// IsValidIPAddress checks if string is a valid IP address
func IsValidIPAddress(ip string) bool {
	return net.ParseIP(ip) != nil
}

// NormalizeHost normalizes hostname by converting to lowercase and removing trailing dot
func NormalizeHost(hostname string) string {
	if hostname == "" {
		return ""
	}

	// Convert to lowercase
	hostname = strings.ToLower(hostname)

	// Remove trailing dot
	hostname = strings.TrimSuffix(hostname, ".")

	return hostname
}
