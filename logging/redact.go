package logging

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RedactedPlaceholder replaces secret values.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match secret-looking substrings inside arbitrary values.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),        // OpenAI-style keys
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),        // Google API keys
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),          // GitHub tokens
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9_]{22,})`), // GitHub fine-grained tokens
	regexp.MustCompile(`(?i)(hf_[a-zA-Z0-9]{30,})`),          // Hugging Face tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_?key\s*[:=]\s*[^\s,;]{8,})`),
}

// sensitiveFieldMarkers flag field names whose values are always secret.
var sensitiveFieldMarkers = []string{
	"API_KEY",
	"APIKEY",
	"PASSWORD",
	"SECRET",
	"AUTHORIZATION",
	"HF_TOKEN",
}

// textContentFields name fields that carry user or model text.
var textContentFields = map[string]bool{
	"input":    true,
	"prompt":   true,
	"output":   true,
	"text":     true,
	"fragment": true,
}

// RedactSensitiveData replaces every secret-looking substring of value with
// RedactedPlaceholder.
//
// Example:
//
//	RedactSensitiveData("key is sk-abc123def456ghi789jkl0")
//	// "key is [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// ContainsSensitiveData reports whether value matches any secret pattern.
func ContainsSensitiveData(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// IsSensitiveField returns true if the field name marks a secret.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, marker := range sensitiveFieldMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// IsTextContentField returns true for field names that carry user or model text.
func IsTextContentField(fieldName string) bool {
	return textContentFields[strings.ToLower(fieldName)]
}

// RedactText replaces a text value with its length in characters.
//
// Example:
//
//	RedactText("The cat sat.") // "[REDACTED 12 chars]"
func RedactText(value string) string {
	return fmt.Sprintf("[REDACTED %d chars]", utf8.RuneCountInString(value))
}
