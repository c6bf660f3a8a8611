// Package link finds the tax authority verification URL printed in a certificate.
package link

import "regexp"

// VerificationHost is the public record lookup host.
const VerificationHost = "https://verificacfdi.facturaelectronica.sat.gob.mx"

var reVerificationURL = regexp.MustCompile(`https://verificacfdi\.facturaelectronica\.sat\.gob\.mx.*?re=[^&\s]+&fe=[^&\s]+`)

// FindVerificationURL returns the first verification URL in text.
func FindVerificationURL(text string) (string, bool) {
	u := reVerificationURL.FindString(text)
	return u, u != ""
}

// FindInPages scans pages in order and stops at the first page with a match.
// The returned index is the zero-based page number.
func FindInPages(pages []string) (string, int, bool) {
	for i, p := range pages {
		if u, ok := FindVerificationURL(p); ok {
			return u, i, true
		}
	}
	return "", -1, false
}
