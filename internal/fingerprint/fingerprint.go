// Package fingerprint derives the deterministic cache key for a generation
// request. Two requests with the same asset kind and the same normalized
// prompt text are semantically identical and must resolve to one artifact.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/assetsmith/internal/model"
)

var lower = cases.Lower(language.Und)

// NormalizePrompt canonicalizes prompt text before hashing: NFKC unicode
// normalization, case folding, and whitespace collapse. Prompts that differ
// only in spacing, case or composed/decomposed forms fingerprint identically.
func NormalizePrompt(text string) string {
	text = norm.NFKC.String(text)
	text = lower.String(text)

	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Compute returns the hex fingerprint of (kind, selected prompt text).
func Compute(kind model.AssetKind, promptText string) string {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizePrompt(promptText)))
	return hex.EncodeToString(h.Sum(nil))
}
