package render

import (
	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/utils"
)

// Enricher performs best-effort reverse DNS and GeoIP lookups against the
// receiving-ip of each failure-detail in a rendered report, purely for
// operator diagnostics. Neither lookup ever changes the RFC 8460 JSON
// body: failures are logged at debug level and otherwise ignored.
type Enricher struct {
	Nameservers []string
	DNSTimeout  int
	GeoIPDBPath string
	Logger      *zap.Logger
}

// NewEnricher builds an Enricher, or returns nil if neither lookup is
// configured (no nameservers and no GeoIP database path).
func NewEnricher(nameservers []string, dnsTimeout int, geoipDBPath string, logger *zap.Logger) *Enricher {
	if len(nameservers) == 0 && geoipDBPath == "" {
		return nil
	}
	return &Enricher{Nameservers: nameservers, DNSTimeout: dnsTimeout, GeoIPDBPath: geoipDBPath, Logger: logger}
}

// Annotate logs reverse DNS and GeoIP lookups for every distinct
// receiving-ip found among report's failure details.
func (e *Enricher) Annotate(domain string, report *Report) {
	if e == nil || report == nil {
		return
	}
	seen := map[string]bool{}
	for _, pr := range report.Policies {
		for _, fd := range pr.FailureDetails {
			if fd.ReceivingIP == "" || seen[fd.ReceivingIP] || !utils.IsValidIPAddress(fd.ReceivingIP) {
				continue
			}
			seen[fd.ReceivingIP] = true
			e.lookup(domain, fd.ReceivingIP)
		}
	}
}

func (e *Enricher) lookup(domain, ip string) {
	fields := []zap.Field{zap.String("domain", domain), zap.String("receiving_ip", ip)}

	if len(e.Nameservers) > 0 {
		if host, err := utils.GetReverseDNS(ip, e.Nameservers, e.DNSTimeout); err != nil {
			e.Logger.Debug("reverse dns lookup failed", append(fields, zap.Error(err))...)
		} else {
			base := utils.GetBaseDomain(utils.NormalizeHost(host))
			e.Logger.Debug("reverse dns lookup", append(fields, zap.String("hostname", host), zap.String("base_domain", base))...)
		}
	}

	if e.GeoIPDBPath != "" {
		if geo, err := utils.GetGeoLocation(ip, e.GeoIPDBPath); err != nil {
			e.Logger.Debug("geoip lookup failed", append(fields, zap.Error(err))...)
		} else {
			e.Logger.Debug("geoip lookup", append(fields, zap.String("country", geo.Country), zap.String("city", geo.City))...)
		}
	}
}
