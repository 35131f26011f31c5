package identity

import "strings"

// maxFingerprintLen bounds the key so it stays indexable.
const maxFingerprintLen = 128

// Fingerprint derives the stable identity key for an address: lower-cased,
// whitespace-stripped components joined by "|". Case, punctuation and
// street-type abbreviation variants of the same address produce the same
// fingerprint. The unit number is deliberately excluded so sub-units of one
// lot share identity; nothing volatile (price, beds) may ever be added here.
func Fingerprint(a *Address) string {
	street := a.StreetName + a.StreetType
	parts := []string{a.StreetNumber, street, a.Suburb, a.Postcode, a.State}
	for i, p := range parts {
		parts[i] = strings.ToLower(stripSpaces(p))
	}
	fp := strings.Join(parts, "|")
	if len(fp) > maxFingerprintLen {
		fp = fp[:maxFingerprintLen]
	}
	return fp
}

// FingerprintAddress parses raw and returns its fingerprint.
func FingerprintAddress(raw string) (string, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return "", err
	}
	return Fingerprint(addr), nil
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
