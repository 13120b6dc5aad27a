package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// TranslationLanguage is the BCP 47 tag of the language translations are
// written in.
type TranslationLanguage string

var supportedTranslations = []language.Tag{
	language.English,
	language.Japanese,
	language.SimplifiedChinese,
	language.Vietnamese,
	language.Spanish,
	language.French,
	language.German,
	language.Russian,
	language.Indonesian,
	language.Thai,
}

var translationMatcher = language.NewMatcher(supportedTranslations)

// ParseTranslationLanguage normalizes a tag such as "EN", "en-US" or "zh" to
// one of the supported translation languages.
func ParseTranslationLanguage(s string) (TranslationLanguage, error) {
	s = strings.TrimSpace(s)
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse translation language %q: %w", s, err)
	}
	_, idx, conf := translationMatcher.Match(tag)
	if conf < language.High {
		return "", fmt.Errorf("unsupported translation language %q", s)
	}
	return TranslationLanguage(supportedTranslations[idx].String()), nil
}

// Tag returns the parsed language tag.
func (l TranslationLanguage) Tag() language.Tag {
	return language.Make(string(l))
}

// EnglishName returns the language name in English, e.g. "Japanese".
func (l TranslationLanguage) EnglishName() string {
	return display.English.Languages().Name(l.Tag())
}

// SupportedTranslationLanguages lists every accepted tag.
func SupportedTranslationLanguages() []TranslationLanguage {
	out := make([]TranslationLanguage, 0, len(supportedTranslations))
	for _, t := range supportedTranslations {
		out = append(out, TranslationLanguage(t.String()))
	}
	return out
}
