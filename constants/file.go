package constants

import "strings"

// AllowedExtensions holds the file extensions accepted as certificates.
// "txt" carries text already extracted from a certificate.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
	"txt": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is an accepted extension.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// ReportPrefix is the default report file name prefix.
const ReportPrefix = "Lector"

// ReportTimeLayout formats the run timestamp embedded in report names.
const ReportTimeLayout = "2006-01-02_15-04"
