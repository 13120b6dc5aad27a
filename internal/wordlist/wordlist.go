// Package wordlist reads target words from plain text, CSV and Excel files.
package wordlist

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxWords bounds a single quiz.
const MaxWords = 200

var (
	ErrEmpty   = errors.New("word list is empty")
	ErrTooMany = errors.New("word list is too long")
)

// headers are first-row cells treated as column titles rather than words.
var headers = map[string]bool{"word": true, "words": true, "단어": true, "어휘": true}

// ParseFile reads words from path, choosing the format by extension.
func ParseFile(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		return fromWorkbook(f)
	case ".csv":
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		return ParseCSV(fh)
	default:
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		return ParseText(fh)
	}
}

// ParseText splits r on newlines and commas.
func ParseText(r io.Reader) ([]string, error) {
	var raw []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		raw = append(raw, strings.Split(sc.Text(), ",")...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return finish(raw)
}

// ParseCSV takes the first column of every record.
func ParseCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	var raw []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(rec) > 0 {
			raw = append(raw, rec[0])
		}
	}
	return finish(raw)
}

// ParseXLSX takes the first column of the first sheet.
func ParseXLSX(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return fromWorkbook(f)
}

func fromWorkbook(f *excelize.File) ([]string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	var raw []string
	for _, row := range rows {
		if len(row) > 0 {
			raw = append(raw, row[0])
		}
	}
	return finish(raw)
}

// finish trims, drops blanks and a header cell, and de-duplicates keeping
// first occurrences.
func finish(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	var out []string
	for i, w := range raw {
		w = strings.TrimSpace(strings.TrimPrefix(w, "\ufeff"))
		if w == "" || seen[w] {
			continue
		}
		if i == 0 && headers[strings.ToLower(w)] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	if len(out) > MaxWords {
		return nil, fmt.Errorf("%w: %d words, the limit is %d", ErrTooMany, len(out), MaxWords)
	}
	return out, nil
}
