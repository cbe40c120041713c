package toolhost

import (
	"regexp"
	"strings"
)

// DefaultMaxResultChars is a result-size bound for ResultGuard.MaxChars; the
// package does not apply it by itself (a zero MaxChars means no limit).
const DefaultMaxResultChars = 64 * 1024

// builtinSecretPatterns catch common secret shapes regardless of which tool
// produced them.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ResultGuard redacts and truncates tool Results before the Agent Loop
// persists them as role=tool Messages.
type ResultGuard struct {
	Enabled bool

	// MaxChars truncates Content beyond this length. Zero means no limit.
	MaxChars int

	// Denylist holds tool-name patterns ("fs.*", "mcp:*", exact names) whose
	// results are replaced entirely with RedactionText.
	Denylist []string

	// RedactPatterns are regexes applied to Content, replacing matches with
	// RedactionText.
	RedactPatterns []string

	RedactionText  string // default "[REDACTED]"
	TruncateSuffix string // default "...[truncated]"

	// SanitizeSecrets applies builtinSecretPatterns to every result.
	SanitizeSecrets bool
}

func (g ResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0 || g.SanitizeSecrets
}

// Apply redacts/truncates result per g's rules. toolName is matched against
// Denylist: a pattern ending in ".*" matches names starting with the text
// before the "*", "mcp:*" matches names starting with "mcp:", and any other
// pattern must equal the name. Proxied MCP tools are registered as
// "{server}_{tool}", so "mcp:*" does not match them.
func (g ResultGuard) Apply(toolName string, result Result) Result {
	if !g.active() {
		return result
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	truncateSuffix := strings.TrimSpace(g.TruncateSuffix)
	if truncateSuffix == "" {
		truncateSuffix = "...[truncated]"
	}

	if len(g.Denylist) > 0 && matchesToolPatterns(g.Denylist, toolName) {
		result.Content = redaction
		return result
	}

	content := result.Content
	if g.SanitizeSecrets && content != "" {
		for _, re := range builtinSecretPatterns {
			content = re.ReplaceAllString(content, redaction)
		}
	}
	if len(g.RedactPatterns) > 0 && content != "" {
		for _, pattern := range g.RedactPatterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			content = re.ReplaceAllString(content, redaction)
		}
	}
	result.Content = content

	if g.MaxChars > 0 && len(result.Content) > g.MaxChars {
		result.Content = result.Content[:g.MaxChars] + truncateSuffix
		result.Truncated = true
	}

	return result
}

func matchesToolPatterns(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if matchToolPattern(pattern, toolName) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}
