package files

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Selected walks root and returns the relative paths of files matching the
// include patterns and not matching the exclude patterns. An empty include
// list selects everything. Patterns use doublestar globs (**/*.bin,
// data/**, *.{csv,json}).
func Selected(root string, include, exclude []string) ([]string, error) {
	includePatterns := normalizePatterns(include)
	if len(includePatterns) == 0 {
		includePatterns = []string{"**/*"}
	}
	excludePatterns := normalizePatterns(exclude)

	var fileList []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(rel, includePatterns) {
			return nil
		}
		if matchesAny(rel, excludePatterns) {
			return nil
		}
		fileList = append(fileList, rel)
		return nil
	})
	return fileList, err
}

func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}

// normalizePatterns cleans patterns for consistent matching. "*" and "./*"
// mean everything recursively; a trailing slash includes the directory's
// whole subtree.
func normalizePatterns(patterns []string) []string {
	var normalized []string
	for _, pattern := range patterns {
		p := strings.TrimSpace(pattern)
		if p == "" {
			continue
		}
		p = filepath.ToSlash(p)

		if p == "./*" || p == "*" {
			p = "**/*"
		} else {
			p = strings.TrimPrefix(p, "./")
			if strings.HasSuffix(p, "/") {
				p += "**"
			}
		}
		normalized = append(normalized, p)
	}
	return normalized
}
