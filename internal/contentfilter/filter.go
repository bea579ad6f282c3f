// Package contentfilter scans inbound and outbound text for phishing links,
// scam addresses, prompt-injection patterns and leaked secrets. Detection is
// synchronous and pure; reporting and persistence are fire-and-forget.
package contentfilter

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"agentwarden/internal/metrics"
	"agentwarden/internal/schema"
	"agentwarden/internal/storage"
)

// Threat is one transient detection result. Threats are never persisted
// directly; only the derived SecurityEvent and content-block record are.
type Threat struct {
	Type        ThreatType     `json:"type"`
	Severity    ThreatSeverity `json:"severity"`
	Description string         `json:"description"`
	Match       string         `json:"match,omitempty"`
}

// ScanResult is the outcome of a scan.
type ScanResult struct {
	Clean   bool     `json:"clean"`
	Threats []Threat `json:"threats,omitempty"`
}

// BlockStore persists content-block records.
type BlockStore interface {
	InsertContentBlock(ctx context.Context, block storage.ContentBlock) error
}

// Config holds content filter settings.
type Config struct {
	BadDomains      []string
	ScamAddresses   []string
	SensitiveValues []string
}

// Filter scans text against the declarative rule tables.
type Filter struct {
	badDomains map[string]bool
	scamAddrs  map[string]bool
	sensitive  []string
	dedup      *DedupCache
	reporter   schema.Reporter
	blocks     BlockStore
}

// New creates a content filter.
func New(cfg Config, reporter schema.Reporter, blocks BlockStore, dedup *DedupCache) *Filter {
	badDomains := make(map[string]bool, len(cfg.BadDomains))
	for _, d := range cfg.BadDomains {
		badDomains[strings.ToLower(d)] = true
	}
	scamAddrs := make(map[string]bool, len(cfg.ScamAddresses))
	for _, a := range cfg.ScamAddresses {
		scamAddrs[a] = true
	}
	return &Filter{
		badDomains: badDomains,
		scamAddrs:  scamAddrs,
		sensitive:  cfg.SensitiveValues,
		dedup:      dedup,
		reporter:   reporter,
		blocks:     blocks,
	}
}

// ScanInbound scans user- or LLM-generated inbound text. Detection needs no
// I/O; reporting of non-clean results happens in the background.
func (f *Filter) ScanInbound(ctx context.Context, text, userID, chatID string) ScanResult {
	threats := f.detect(text)
	result := ScanResult{Clean: len(threats) == 0, Threats: threats}
	if !result.Clean {
		f.reportAsync(ctx, text, threats, userID, chatID, "inbound")
	}
	return result
}

// ScanOutbound scans text about to leave the system. In addition to the
// generic rules it substring-matches the literal values of configured
// secrets, which catches verbatim leakage that no shape pattern would.
func (f *Filter) ScanOutbound(ctx context.Context, text, destination string) ScanResult {
	threats := f.detect(text)
	threats = append(threats, f.detectSensitiveValues(text)...)
	result := ScanResult{Clean: len(threats) == 0, Threats: threats}
	if !result.Clean {
		f.reportAsync(ctx, text, threats, "", destination, "outbound")
	}
	return result
}

// detect runs the full inbound detection order: URLs, addresses, injection
// patterns, then secret shapes. Independent matches are all collected.
func (f *Filter) detect(text string) []Threat {
	var threats []Threat
	threats = append(threats, f.detectURLs(text)...)
	threats = append(threats, f.detectScamAddresses(text)...)
	threats = append(threats, f.detectInjection(text)...)
	threats = append(threats, f.detectSecrets(text)...)
	return threats
}

func (f *Filter) detectURLs(text string) []Threat {
	var threats []Threat
	for _, raw := range urlPattern.FindAllString(text, -1) {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			// Malformed URLs are skipped, not errors.
			continue
		}
		host := strings.ToLower(u.Hostname())

		if f.badDomains[host] {
			threats = append(threats, Threat{
				Type:        ThreatPhishingLink,
				Severity:    SeverityCritical,
				Description: "link to known-bad domain " + host,
				Match:       raw,
			})
			continue
		}

		if ipLiteralHostPattern.MatchString(raw) {
			threats = append(threats, Threat{
				Type:        ThreatPhishingLink,
				Severity:    SeverityHigh,
				Description: "IP-literal URL",
				Match:       raw,
			})
			continue
		}

		if urlShorteners[host] {
			threats = append(threats, Threat{
				Type:        ThreatPhishingLink,
				Severity:    SeverityMedium,
				Description: "URL shortener hides destination",
				Match:       raw,
			})
			continue
		}

		if tld := lastLabel(host); highRiskTLDs[tld] {
			threats = append(threats, Threat{
				Type:        ThreatPhishingLink,
				Severity:    SeverityHigh,
				Description: "high-risk TLD ." + tld,
				Match:       raw,
			})
			continue
		}

		for _, rule := range urlRules {
			if rule.Pattern.MatchString(raw) {
				threats = append(threats, Threat{
					Type:        rule.Type,
					Severity:    rule.Severity,
					Description: rule.Label,
					Match:       raw,
				})
				break
			}
		}
	}
	return threats
}

func (f *Filter) detectScamAddresses(text string) []Threat {
	var threats []Threat
	for _, addr := range base58AddressPattern.FindAllString(text, -1) {
		if f.scamAddrs[addr] {
			threats = append(threats, Threat{
				Type:        ThreatScamAddress,
				Severity:    SeverityCritical,
				Description: "known scam address",
				Match:       addr,
			})
		}
	}
	return threats
}

func (f *Filter) detectInjection(text string) []Threat {
	var threats []Threat
	for _, rule := range injectionRules {
		if m := rule.Pattern.FindString(text); m != "" {
			threats = append(threats, Threat{
				Type:        rule.Type,
				Severity:    rule.Severity,
				Description: rule.Label,
				Match:       m,
			})
		}
	}

	// Heuristic: long text saturated with imperative phrasing.
	if len(text) >= instructionTextMinLen {
		hits := 0
		for _, p := range instructionPhrases {
			if p.MatchString(text) {
				hits++
			}
		}
		if hits >= instructionPhraseThreshold {
			threats = append(threats, Threat{
				Type:        ThreatSuspiciousContent,
				Severity:    SeverityMedium,
				Description: "excessive instruction-like phrasing in long text",
			})
		}
	}

	// Heuristic: large base64 blobs smuggling encoded instructions.
	if m := base64BlobPattern.FindString(text); m != "" {
		threats = append(threats, Threat{
			Type:        ThreatSuspiciousContent,
			Severity:    SeverityMedium,
			Description: "large base64 blob",
			Match:       m[:32] + "...",
		})
	}

	return threats
}

func (f *Filter) detectSecrets(text string) []Threat {
	return FindSecretShapes(text)
}

// FindSecretShapes reports every credential-shaped match in text. Matches
// are masked; the raw secret never leaves this function.
func FindSecretShapes(text string) []Threat {
	var threats []Threat
	for _, rule := range secretRules {
		if m := rule.Pattern.FindString(text); m != "" {
			threats = append(threats, Threat{
				Type:        rule.Type,
				Severity:    rule.Severity,
				Description: rule.Label,
				Match:       maskMatch(m),
			})
		}
	}
	return threats
}

// detectSensitiveValues substring-matches literal configured secrets.
func (f *Filter) detectSensitiveValues(text string) []Threat {
	var threats []Threat
	for _, secret := range f.sensitive {
		if secret != "" && strings.Contains(text, secret) {
			threats = append(threats, Threat{
				Type:        ThreatLeakedSecret,
				Severity:    SeverityCritical,
				Description: "configured secret value present in outbound text",
				Match:       maskMatch(secret),
			})
		}
	}
	return threats
}

// reportAsync persists a content block and emits events without blocking
// the caller. The same text is reported at most once per dedup window.
func (f *Filter) reportAsync(ctx context.Context, text string, threats []Threat, sourceID, targetID, direction string) {
	hash := HashContent(text)
	if f.dedup != nil && f.dedup.Seen(ctx, hash) {
		return
	}

	for _, t := range threats {
		metrics.ThreatsDetected.WithLabelValues(string(t.Type)).Inc()
	}

	primary := primaryThreat(threats)
	preview := text
	if len(preview) > 120 {
		preview = preview[:120]
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if f.blocks != nil {
			block := storage.ContentBlock{
				ContentHash: hash,
				Preview:     preview,
				UserID:      sourceID,
				ChatID:      targetID,
				ThreatType:  string(primary.Type),
				Action:      "blocked",
			}
			if err := f.blocks.InsertContentBlock(bgCtx, block); err != nil {
				metrics.StoreErrors.WithLabelValues("content_blocks").Inc()
				slog.Error("failed to persist content block", "hash", hash[:12], "error", err)
			}
		}

		for _, t := range threats {
			details := map[string]any{
				"threat_type": string(t.Type),
				"description": t.Description,
				"direction":   direction,
				"hash":        hash,
			}
			if t.Match != "" {
				details["match"] = t.Match
			}
			if sourceID != "" {
				details["user_id"] = sourceID
			}
			if targetID != "" {
				details["target"] = targetID
			}
			event := schema.NewEvent(schema.CategoryContent, t.EventSeverity(), eventTitle(t), details)
			f.reporter.Report(bgCtx, event)
		}
	}()
}

// EventSeverity maps a threat grade to the event contract's severity.
func (t Threat) EventSeverity() schema.Severity {
	switch t.Severity {
	case SeverityCritical:
		return schema.SeverityCritical
	case SeverityHigh, SeverityMedium:
		return schema.SeverityWarning
	default:
		return schema.SeverityInfo
	}
}

func eventTitle(t Threat) string {
	switch t.Type {
	case ThreatPhishingLink:
		return "Phishing link detected: " + t.Description
	case ThreatScamAddress:
		return "Scam address detected: " + t.Match
	case ThreatPromptInjection:
		return "Prompt injection attempt: " + t.Description
	case ThreatLeakedSecret:
		return "Secret leak detected: " + t.Description
	default:
		return "Suspicious content: " + t.Description
	}
}

// primaryThreat picks the highest-graded threat for the block record.
func primaryThreat(threats []Threat) Threat {
	rank := map[ThreatSeverity]int{SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4}
	best := threats[0]
	for _, t := range threats[1:] {
		if rank[t.Severity] > rank[best.Severity] {
			best = t
		}
	}
	return best
}

func maskMatch(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func lastLabel(host string) string {
	idx := strings.LastIndexByte(host, '.')
	if idx < 0 || idx == len(host)-1 {
		return ""
	}
	return host[idx+1:]
}
