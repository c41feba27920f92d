// Package rules matches completed download files against configured
// transcoding rules.
package rules

import (
	"path/filepath"
	"strings"

	"seedforge/internal/domain"
)

// Match returns the first rule in configuration order whose input extension
// equals the file's extension, compared case-insensitively. A file with no
// extension or no matching rule returns false; that is not an error, the
// file simply passes through untouched.
func Match(path string, rules []domain.TranscodeRule) (domain.TranscodeRule, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return domain.TranscodeRule{}, false
	}
	for _, rule := range rules {
		if rule.InputExtension == ext {
			return rule, true
		}
	}
	return domain.TranscodeRule{}, false
}

// OutputPath computes the destination for a matched file: the destination
// directory (or the source's directory when empty) joined with the source's
// base name and the rule's output format extension.
func OutputPath(source, destDir string, rule domain.TranscodeRule) string {
	dir := destDir
	if dir == "" {
		dir = filepath.Dir(source)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(dir, base+"."+rule.OutputFormat)
}
