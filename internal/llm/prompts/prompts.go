package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/wordquiz/wordquiz/internal/model"
)

// Templates holds the built-in prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

var tagRegex = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

const maxWordRunes = 40

var (
	loadOnce     sync.Once
	loadErr      error
	generateTmpl *template.Template
)

// GenerateData holds template data for the problem-generation prompt.
type GenerateData struct {
	Level       model.Difficulty
	LevelGuide  string
	Language    string
	WordsPerSet int
	Words       []string
}

// Load parses prompt templates from fsys. It uses sync.Once to ensure
// templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		tmpl, err := template.ParseFS(fsys, "templates/levels.txt")
		if err != nil {
			loadErr = errors.New("failed to parse level templates: " + err.Error())
			return
		}
		content, err := fs.ReadFile(fsys, "templates/generate.txt")
		if err != nil {
			loadErr = errors.New("failed to read prompt file templates/generate.txt: " + err.Error())
			return
		}
		if _, err := tmpl.New("generate").Parse(string(content)); err != nil {
			loadErr = errors.New("failed to parse prompt template templates/generate.txt: " + err.Error())
			return
		}
		generateTmpl = tmpl
	})
	return loadErr
}

// BuildGeneratePrompt renders the system prompt for one chunk of words.
func BuildGeneratePrompt(level model.Difficulty, lang model.TranslationLanguage, wordsPerSet int, words []string) (string, error) {
	if generateTmpl == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	if generateTmpl.Lookup(string(level)) == nil {
		return "", errors.New("no level guide for difficulty: " + string(level))
	}

	var guide bytes.Buffer
	if err := generateTmpl.ExecuteTemplate(&guide, string(level), nil); err != nil {
		return "", err
	}

	clean := make([]string, 0, len(words))
	for _, w := range words {
		clean = append(clean, SanitizeWord(w))
	}

	data := GenerateData{
		Level:       level,
		LevelGuide:  strings.TrimSpace(guide.String()),
		Language:    lang.EnglishName(),
		WordsPerSet: wordsPerSet,
		Words:       clean,
	}

	var buf bytes.Buffer
	if err := generateTmpl.ExecuteTemplate(&buf, "generate", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeWord strips markup and control characters from a teacher-supplied
// word so it cannot smuggle instructions into the prompt.
func SanitizeWord(word string) string {
	word = tagRegex.ReplaceAllString(word, "")
	word = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, word)
	word = strings.TrimSpace(word)
	if utf8.RuneCountInString(word) > maxWordRunes {
		word = string([]rune(word)[:maxWordRunes])
	}
	return word
}
