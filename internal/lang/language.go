// Package lang validates transcript language tags and names them for the
// oracle instruction.
package lang

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// parse reads a BCP 47 tag, accepting "_" as a separator ("pt_BR").
// The base language must be a two-letter ISO 639-1 code: both oracles
// reject three-letter codes.
func parse(s string) (language.Tag, error) {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
	if err != nil {
		return language.Und, err
	}
	base, conf := tag.Base()
	if conf != language.Exact || len(base.String()) != 2 {
		return language.Und, fmt.Errorf("no ISO 639-1 base language")
	}
	return tag, nil
}

// Validate checks a language tag such as "en", "fr" or "pt-BR".
// Empty means auto-detect and is valid.
func Validate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := parse(s); err != nil {
		return fmt.Errorf("invalid language code %q (use ISO 639-1 codes like 'en', 'fr', 'pt-BR'): %w", s, ErrInvalid)
	}
	return nil
}

// BaseCode returns the ISO 639-1 base of a tag: "pt-BR" -> "pt".
// OpenAI's transcription API only accepts base codes.
func BaseCode(s string) string {
	if s == "" {
		return ""
	}
	tag, err := parse(s)
	if err != nil {
		code, _, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(s, "_", "-")), "-")
		return code
	}
	base, _ := tag.Base()
	return base.String()
}

// DisplayName returns the English name of a tag ("pt-BR" -> "Brazilian
// Portuguese"), or s itself when it cannot be named.
func DisplayName(s string) string {
	if s == "" {
		return ""
	}
	tag, err := parse(s)
	if err != nil {
		return s
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return s
}
