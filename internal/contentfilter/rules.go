package contentfilter

import "regexp"

// ThreatType classifies a detected content threat.
type ThreatType string

const (
	ThreatPhishingLink      ThreatType = "phishing_link"
	ThreatScamAddress       ThreatType = "scam_address"
	ThreatPromptInjection   ThreatType = "prompt_injection"
	ThreatLeakedSecret      ThreatType = "leaked_secret"
	ThreatSuspiciousContent ThreatType = "suspicious_content"
)

// ThreatSeverity grades a threat. It is mapped to an event severity when the
// threat is reported; the threat itself is never persisted.
type ThreatSeverity string

const (
	SeverityLow      ThreatSeverity = "low"
	SeverityMedium   ThreatSeverity = "medium"
	SeverityHigh     ThreatSeverity = "high"
	SeverityCritical ThreatSeverity = "critical"
)

// PatternRule is one declarative detection rule: a compiled pattern plus the
// threat classification it produces on match.
type PatternRule struct {
	Pattern  *regexp.Regexp
	Type     ThreatType
	Severity ThreatSeverity
	Label    string
}

var (
	// urlPattern extracts candidate URLs from free text.
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	// base58AddressPattern matches base58 strings shaped like wallet addresses.
	base58AddressPattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

	// base64BlobPattern matches large base64 payloads, a common smuggling
	// vector for encoded instructions.
	base64BlobPattern = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)

	// ipLiteralHostPattern matches URLs whose host is a raw IPv4 address.
	ipLiteralHostPattern = regexp.MustCompile(`^https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d+)?(?:/|$)`)
)

// urlRules classify suspicious URLs by wording.
var urlRules = []PatternRule{
	{
		Pattern:  regexp.MustCompile(`(?i)(claim|airdrop|free)[-_a-z0-9]*\.(?:[a-z0-9-]+\.)*[a-z]{2,}`),
		Type:     ThreatPhishingLink,
		Severity: SeverityHigh,
		Label:    "drainer-style claim/airdrop domain",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)(wallet|seed|phrase|restore|validate)[-_a-z0-9]*(connect|sync|verify)`),
		Type:     ThreatPhishingLink,
		Severity: SeverityHigh,
		Label:    "wallet-connect phishing wording",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)(urgent|suspended|verify-account|unlock-now)`),
		Type:     ThreatPhishingLink,
		Severity: SeverityMedium,
		Label:    "urgency phishing wording",
	},
}

// highRiskTLDs are TLDs with heavy abuse in drainer campaigns.
var highRiskTLDs = map[string]bool{
	"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"zip": true, "click": true, "top": true, "icu": true,
}

// urlShorteners hide the real destination; flagged at medium severity.
var urlShorteners = map[string]bool{
	"bit.ly": true, "tinyurl.com": true, "t.co": true, "goo.gl": true,
	"is.gd": true, "cutt.ly": true, "rb.gy": true,
}

// injectionRules detect prompt-injection attempts against LLM-driven agents.
var injectionRules = []PatternRule{
	{
		Pattern:  regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|messages?|rules?)`),
		Type:     ThreatPromptInjection,
		Severity: SeverityHigh,
		Label:    "instruction override",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)disregard\s+(your|all|any)\s+(instructions?|training|guidelines?|rules?)`),
		Type:     ThreatPromptInjection,
		Severity: SeverityHigh,
		Label:    "instruction override",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in|free|unrestricted)`),
		Type:     ThreatPromptInjection,
		Severity: SeverityHigh,
		Label:    "role hijack",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)(reveal|print|show|repeat)\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
		Type:     ThreatPromptInjection,
		Severity: SeverityHigh,
		Label:    "system prompt extraction",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)(send|give|share|transfer)\s+(me\s+)?(your|the)\s+(seed|private\s+key|secret|mnemonic|recovery\s+phrase)`),
		Type:     ThreatPromptInjection,
		Severity: SeverityCritical,
		Label:    "key exfiltration request",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+`),
		Type:     ThreatPromptInjection,
		Severity: SeverityMedium,
		Label:    "role-play coercion",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b|\bDAN\s+mode\b`),
		Type:     ThreatPromptInjection,
		Severity: SeverityHigh,
		Label:    "jailbreak trigger",
	},
}

// secretRules detect credential-shaped strings in either direction.
var secretRules = []PatternRule{
	{
		Pattern:  regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityCritical,
		Label:    "anthropic api key",
	},
	{
		Pattern:  regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityCritical,
		Label:    "openai api key",
	},
	{
		Pattern:  regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityCritical,
		Label:    "aws access key",
	},
	{
		Pattern:  regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityCritical,
		Label:    "telegram bot token",
	},
	{
		Pattern:  regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityCritical,
		Label:    "github token",
	},
	{
		Pattern:  regexp.MustCompile(`\b(0x)?[0-9a-fA-F]{64}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityHigh,
		Label:    "hex private key shape",
	},
	{
		Pattern:  regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{86,90}\b`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityHigh,
		Label:    "base58 private key shape",
	},
	{
		Pattern:  regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.=]{20,}`),
		Type:     ThreatLeakedSecret,
		Severity: SeverityHigh,
		Label:    "bearer token",
	},
}

// instructionPhrases feed the instruction-density heuristic: text long
// enough to hide an embedded prompt and saturated with imperative phrasing.
var instructionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou\s+must\b`),
	regexp.MustCompile(`(?i)\byou\s+should\s+always\b`),
	regexp.MustCompile(`(?i)\bdo\s+not\s+(tell|reveal|mention)\b`),
	regexp.MustCompile(`(?i)\bnever\s+(refuse|decline|mention)\b`),
	regexp.MustCompile(`(?i)\brespond\s+(only\s+)?with\b`),
	regexp.MustCompile(`(?i)\bfrom\s+now\s+on\b`),
	regexp.MustCompile(`(?i)\byour\s+new\s+(task|goal|purpose)\b`),
}

const (
	// instructionTextMinLen gates the density heuristic to long text.
	instructionTextMinLen = 400

	// instructionPhraseThreshold is how many distinct imperative phrases
	// push long text over the line.
	instructionPhraseThreshold = 3
)
