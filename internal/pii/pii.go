// Package pii scans state files for personal data and credentials that must
// never be committed.
package pii

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// contextRadius is how many bytes around a match are checked against the
// safe patterns.
const contextRadius = 30

// Pattern is a named detector.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Patterns are applied in order to every scanned file.
var Patterns = []Pattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"api_key", regexp.MustCompile(`\b(?:sk|pk|key|token)[-_][A-Za-z0-9]{16,}\b`)},
	{"aws_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"private_key", regexp.MustCompile(`BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY`)},
	{"bearer_token", regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+=*\b`)},
	{"github_token", regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`)},
}

// safePatterns exempt a match when they occur in it or near it.
var safePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ed25519:`),
	regexp.MustCompile(`(?i)example\.com`),
	regexp.MustCompile(`(?i)example\.org`),
	regexp.MustCompile(`(?i)noreply@`),
	regexp.MustCompile(`(?i)@users\.noreply\.github\.com`),
}

// Extensions lists the file types that are scanned.
var Extensions = []string{".json", ".md"}

// Finding is one suspicious match.
type Finding struct {
	File    string `json:"file"`
	Pattern string `json:"pattern"`
	Match   string `json:"match"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s = %s", f.File, f.Pattern, f.Match)
}

// ScanText returns the findings in content, attributed to file.
func ScanText(file, content string) []Finding {
	var out []Finding
	for _, p := range Patterns {
		for _, loc := range p.Re.FindAllStringIndex(content, -1) {
			match := content[loc[0]:loc[1]]
			ctx := content[max(0, loc[0]-contextRadius):min(len(content), loc[1]+contextRadius)]
			if isSafe(match, ctx) {
				continue
			}
			out = append(out, Finding{File: file, Pattern: p.Name, Match: match})
		}
	}
	return out
}

func isSafe(match, context string) bool {
	for _, re := range safePatterns {
		if re.MatchString(match) || re.MatchString(context) {
			return true
		}
	}
	return false
}

// ScanDir walks root and scans every file with a listed extension. Files are
// visited in lexical order. Unreadable files are skipped.
func ScanDir(root string) ([]Finding, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("state directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("state directory %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, ext := range Extensions {
			if filepath.Ext(path) == ext {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var findings []Finding
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		findings = append(findings, ScanText(path, string(data))...)
	}
	return findings, nil
}
