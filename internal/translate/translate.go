// Package translate normalizes non-English questions to English before
// retrieval and generation. Translation failure is never fatal: the
// original text passes through flagged as degraded.
package translate

import (
	"context"
	"regexp"
	"strings"
)

type Result struct {
	Text string
	// Translated reports that the text was actually sent through the
	// translation service.
	Translated bool
	// Degraded reports that translation was wanted but failed and the
	// original text passed through unchanged.
	Degraded bool
}

type Translator interface {
	Normalize(ctx context.Context, text, languageHint string) Result
}

var hangulPattern = regexp.MustCompile(`[ㄱ-ㅎ가-힣]`)

// ContainsKorean reports whether the text contains Hangul characters.
func ContainsKorean(text string) bool {
	return hangulPattern.MatchString(text)
}

func needsTranslation(text, languageHint string) bool {
	switch strings.ToLower(strings.TrimSpace(languageHint)) {
	case "en":
		return false
	case "ko":
		return true
	}
	return ContainsKorean(text)
}

// Noop passes every question through unchanged. Used when no translation
// service is configured.
type Noop struct{}

func (Noop) Normalize(_ context.Context, text, _ string) Result {
	return Result{Text: text}
}
