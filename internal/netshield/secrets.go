package netshield

import (
	"context"
	"strings"

	"agentwarden/internal/contentfilter"
	"agentwarden/internal/schema"
)

// SecretScanner inspects outbound request payloads for credential-shaped
// strings and for the literal values of configured secrets, so an agent
// cannot ship keys to an external service.
type SecretScanner struct {
	sensitive []string
	reporter  schema.Reporter
}

// NewSecretScanner creates a scanner over the configured secret values.
func NewSecretScanner(sensitiveValues []string, reporter schema.Reporter) *SecretScanner {
	return &SecretScanner{sensitive: sensitiveValues, reporter: reporter}
}

// Scan returns true when the payload is safe to send.
func (s *SecretScanner) Scan(payload string) bool {
	if len(contentfilter.FindSecretShapes(payload)) > 0 {
		return false
	}
	for _, secret := range s.sensitive {
		if secret != "" && strings.Contains(payload, secret) {
			return false
		}
	}
	return true
}

// ScanAndReport scans a payload bound for destination and emits a critical
// event for each finding. The payload itself is never included in events.
func (s *SecretScanner) ScanAndReport(ctx context.Context, payload, destination string) bool {
	clean := true

	for _, threat := range contentfilter.FindSecretShapes(payload) {
		clean = false
		s.reporter.Report(ctx, schema.NewEvent(schema.CategoryNetwork, schema.SeverityCritical,
			"Outbound secret blocked: "+threat.Description,
			map[string]any{
				"destination": destination,
				"secret_type": threat.Description,
				"match":       threat.Match,
			}))
	}

	for _, secret := range s.sensitive {
		if secret != "" && strings.Contains(payload, secret) {
			clean = false
			s.reporter.Report(ctx, schema.NewEvent(schema.CategoryNetwork, schema.SeverityCritical,
				"Outbound secret blocked: configured secret value",
				map[string]any{"destination": destination}))
		}
	}

	return clean
}
