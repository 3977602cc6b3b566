package ingestion

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk types recorded in metadata["type"].
const (
	TypePDF = "pdf"
	TypeQA  = "qa"
)

// periodPattern finds a reporting period in a file name: a year, optionally
// followed by a month ("2023", "2023-06", "202306", "2023年06月").
var periodPattern = regexp.MustCompile(`((?:19|20)\d{2})(?:[-_.年]?(0[1-9]|1[0-2])(?:\D|$))?`)

// InferDate returns the best-effort reporting period encoded in a file
// name, formatted "YYYY" or "YYYY-MM", or "" when none is found. Filings
// are conventionally named after the period they cover, e.g.
// "贵州茅台2023年年度报告.pdf" or "cmb_2024-06_interim.pdf".
func InferDate(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	m := periodPattern.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "-" + m[2]
	}
	return m[1]
}
