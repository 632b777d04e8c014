package gateway

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var publicIPEndpoints = []string{
	"https://api.ipify.org?format=text",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

var ipv4RE = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// resolvePublicIP returns this host's public IPv4 address, cached for a few
// minutes. Used when the checkout only knows a loopback client address,
// which gateway risk checks reject.
func (s *Service) resolvePublicIP(ctx context.Context) string {
	ip, err := s.publicIP.GetOrRefresh(ctx, s.lookupPublicIP)
	if err != nil {
		s.logger.Warn("public ip lookup failed", zap.Error(err))
		return ""
	}
	return ip
}

func (s *Service) lookupPublicIP(ctx context.Context) (string, time.Duration, error) {
	var lastErr error
	for _, endpoint := range publicIPEndpoints {
		status, body, err := doRequest(ctx, s.ipClient, http.MethodGet, endpoint, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 400 {
			lastErr = fmt.Errorf("%s returned %d", endpoint, status)
			continue
		}
		candidate := strings.TrimSpace(string(body))
		if ipv4RE.MatchString(candidate) {
			return candidate, 0, nil
		}
		lastErr = fmt.Errorf("%s returned unusable body %q", endpoint, truncate(candidate, 40))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no public ip endpoints configured")
	}
	return "", 0, lastErr
}
