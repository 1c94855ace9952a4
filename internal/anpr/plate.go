package anpr

import "strings"

// minPlateLen rejects fragments the OCR stage produces on partial reads.
const minPlateLen = 3

// NormalizePlate canonicalizes an OCR read: uppercase, alphanumerics only.
// Returns "" when the residue is too short to be a plausible plate.
func NormalizePlate(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	plate := b.String()
	if len(plate) < minPlateLen {
		return ""
	}
	return plate
}
