// Package fingerprint derives stable keys from free-form context.
//
// Two inputs that differ only in case, Unicode composition, or whitespace
// produce the same fingerprint. Cache keys and learning-log keys are both
// built here so that the two stores agree on what "the same context" means.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Separator joins fingerprint parts.
const Separator = "|"

var folder = cases.Fold()

// Normalize applies NFKC, case folding and whitespace collapsing.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Of returns the hex sha256 of the normalized parts joined by Separator.
func Of(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(Separator))
		}
		h.Write([]byte(Normalize(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Exact returns the hex sha256 of the parts as given. Each part is length
// prefixed, so ("ab", "c") and ("a", "bc") differ. Use it for identifiers
// that must match exactly, such as session ids.
func Exact(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte(":"))
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Join builds a readable compound key without hashing. Parts are normalized
// and any Separator inside a part is replaced so the result splits cleanly.
func Join(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ReplaceAll(Normalize(p), Separator, "/")
	}
	return strings.Join(out, Separator)
}
