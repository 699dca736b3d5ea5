package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

// signatureTokens bounds how much of a description contributes to identity.
const signatureTokens = 8

// Fingerprint derives the dedup identity of a candidate from its product,
// category and description class. Identical inputs always produce the same
// value; a category change always produces a different one.
func Fingerprint(c *Candidate) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(c.ProductID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(c.Category.String()))
	h.Write([]byte{0})
	h.Write([]byte(DescriptionSignature(c.Description)))
	return hex.EncodeToString(h.Sum(nil))
}

// DescriptionSignature normalizes free text to a coarse class: lowercase
// letter-only tokens, with numbers, dates and punctuation dropped, truncated
// to a fixed token budget.
func DescriptionSignature(desc string) string {
	fields := strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) > signatureTokens {
		fields = fields[:signatureTokens]
	}
	return strings.Join(fields, " ")
}
