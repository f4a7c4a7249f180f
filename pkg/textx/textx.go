// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var (
	codeFence    = regexp.MustCompile("(?is)^```[a-z]*\\n(.*?)\\n```$")
	doubleQuoted = regexp.MustCompile(`(?s)^"(.*)"$`)
	singleQuoted = regexp.MustCompile(`(?s)^'(.*)'$`)

	titlePrefix        = regexp.MustCompile(`(?i)^title:\s*`)
	conciseTitlePrefix = regexp.MustCompile(`(?i)^concise title:\s*`)

	unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// SanitizeEnhancedPrompt strips a wrapping code fence and outer quotes from
// model output. Markdown inside the text is kept.
func SanitizeEnhancedPrompt(s string) string {
	out := strings.TrimSpace(s)
	out = strings.TrimSpace(codeFence.ReplaceAllString(out, "$1"))
	out = strings.TrimSpace(doubleQuoted.ReplaceAllString(out, "$1"))
	out = strings.TrimSpace(singleQuoted.ReplaceAllString(out, "$1"))
	return out
}

// FallbackTitle is used whenever no usable title comes back.
const FallbackTitle = "Chat"

// CleanTitle normalizes a model generated chat title. Titles longer than six
// words are cut to five words followed by "...".
func CleanTitle(s string) string {
	title := strings.TrimSpace(s)
	title = titlePrefix.ReplaceAllString(title, "")
	title = conciseTitlePrefix.ReplaceAllString(title, "")
	title = strings.TrimPrefix(title, `"`)
	title = strings.TrimSuffix(title, `"`)

	words := strings.Fields(title)
	if len(words) == 0 {
		return FallbackTitle
	}
	if len(words) > 6 {
		return strings.Join(words[:5], " ") + "..."
	}
	return title
}

// SafeFilename replaces every run of characters outside [a-zA-Z0-9._-] with "_".
func SafeFilename(name string) string {
	return unsafeFilename.ReplaceAllString(name, "_")
}
