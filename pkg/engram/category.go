package engram

import "strings"

// NormalizeCategory strips leading/trailing separators and collapses
// consecutive separators, rejecting a category that is empty after
// normalization. Callers must check the returned bool; a false result means
// the category was empty after normalization and must be rejected.
func NormalizeCategory(category string) (string, bool) {
	parts := splitNonEmpty(category)
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "/"), true
}

// ParseCategoryLevels splits a normalized category path into up to three
// levels for fast columnar filtering, mirroring original_source/src/db.py's
// _parse_category.
func ParseCategoryLevels(category string) (level1, level2, level3 string) {
	parts := splitNonEmpty(category)
	if len(parts) > 0 {
		level1 = parts[0]
	}
	if len(parts) > 1 {
		level2 = parts[1]
	}
	if len(parts) > 2 {
		level3 = parts[2]
	}
	return
}

func splitNonEmpty(category string) []string {
	raw := strings.Split(category, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
