package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// MalformedAddressError means the input can never parse. Callers must treat
// it as non-retryable and route the item to manual review.
type MalformedAddressError struct {
	Raw    string
	Reason string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed address %q: %s", e.Raw, e.Reason)
}

// Address is the structured form of a free-text listing address.
type Address struct {
	UnitType     string
	UnitNumber   string
	StreetNumber string
	StreetName   string
	StreetType   string
	Suburb       string
	State        string
	Postcode     string
}

var (
	// Accepted state abbreviations plus full names, matched case-insensitively.
	stateTable = map[string]string{
		"nsw":                          "NSW",
		"vic":                          "VIC",
		"qld":                          "QLD",
		"sa":                           "SA",
		"wa":                           "WA",
		"tas":                          "TAS",
		"act":                          "ACT",
		"nt":                           "NT",
		"new south wales":              "NSW",
		"victoria":                     "VIC",
		"queensland":                   "QLD",
		"south australia":              "SA",
		"western australia":            "WA",
		"tasmania":                     "TAS",
		"australian capital territory": "ACT",
		"northern territory":           "NT",
	}

	streetTypes = map[string]string{
		"street":    "St",
		"st":        "St",
		"road":      "Rd",
		"rd":        "Rd",
		"avenue":    "Ave",
		"ave":       "Ave",
		"av":        "Ave",
		"drive":     "Dr",
		"dr":        "Dr",
		"court":     "Ct",
		"ct":        "Ct",
		"place":     "Pl",
		"pl":        "Pl",
		"parade":    "Pde",
		"pde":       "Pde",
		"crescent":  "Cres",
		"cres":      "Cres",
		"boulevard": "Bvd",
		"blvd":      "Bvd",
		"bvd":       "Bvd",
		"lane":      "Ln",
		"ln":        "Ln",
		"terrace":   "Tce",
		"tce":       "Tce",
		"highway":   "Hwy",
		"hwy":       "Hwy",
		"circuit":   "Cct",
		"cct":       "Cct",
		"close":     "Cl",
		"cl":        "Cl",
		"esplanade": "Esp",
		"esp":       "Esp",
		"grove":     "Gr",
		"gr":        "Gr",
		"square":    "Sq",
		"sq":        "Sq",
		"way":       "Way",
	}

	unitTypes = map[string]string{
		"unit":      "Unit",
		"apt":       "Apt",
		"apartment": "Apt",
		"flat":      "Flat",
		"suite":     "Suite",
		"level":     "Level",
	}

	postcodeRegex   = regexp.MustCompile(`\b(\d{4})\b`)
	slashUnitRegex  = regexp.MustCompile(`^(\d+[a-zA-Z]?)\s*/\s*(.+)$`)
	wordUnitRegex   = regexp.MustCompile(`(?i)^(unit|apt|apartment|flat|suite|level)\s+(\d+[a-zA-Z]?)\s*,?\s+(.+)$`)
	streetNumRegex  = regexp.MustCompile(`^(\d+[a-zA-Z]?(?:\s*-\s*\d+[a-zA-Z]?)?)\s+(.+)$`)
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// ParseAddress parses a free-text address into structured components.
// Comma-separated segments are expected: "<street>, [<suburb>,] <suburb? state postcode>".
func ParseAddress(raw string) (*Address, error) {
	cleaned := multiSpaceRegex.ReplaceAllString(strings.TrimSpace(raw), " ")
	segments := splitSegments(cleaned)
	if len(segments) < 2 {
		return nil, &MalformedAddressError{Raw: raw, Reason: "expected at least 2 comma-separated segments"}
	}

	addr := &Address{}

	last := segments[len(segments)-1]
	rest := parseLocality(last, addr)
	if addr.State == "" {
		return nil, &MalformedAddressError{Raw: raw, Reason: "no recognizable state"}
	}
	if addr.Postcode == "" {
		return nil, &MalformedAddressError{Raw: raw, Reason: "no 4-digit postcode"}
	}

	// Suburb comes from the second-to-last segment when there is one,
	// otherwise from whatever precedes the state in the last segment.
	if len(segments) >= 3 {
		addr.Suburb = titleCase(segments[len(segments)-2])
	} else if rest != "" {
		addr.Suburb = titleCase(rest)
	}
	if addr.Suburb == "" {
		return nil, &MalformedAddressError{Raw: raw, Reason: "no suburb"}
	}

	if err := parseStreet(segments[0], addr); err != nil {
		return nil, &MalformedAddressError{Raw: raw, Reason: err.Error()}
	}

	return addr, nil
}

// Canonical renders the human-readable canonical form, e.g.
// "2/10 Park Rd, Bondi NSW 2026".
func (a *Address) Canonical() string {
	var b strings.Builder
	if a.UnitNumber != "" {
		b.WriteString(a.UnitNumber)
		b.WriteString("/")
	}
	b.WriteString(a.StreetNumber)
	b.WriteString(" ")
	b.WriteString(titleCase(a.StreetName))
	if a.StreetType != "" {
		b.WriteString(" ")
		b.WriteString(a.StreetType)
	}
	b.WriteString(", ")
	b.WriteString(a.Suburb)
	b.WriteString(" ")
	b.WriteString(a.State)
	b.WriteString(" ")
	b.WriteString(a.Postcode)
	return b.String()
}

func splitSegments(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLocality extracts state and postcode from the final segment and
// returns the leftover tokens (a suburb, when no separate segment carries it).
func parseLocality(segment string, addr *Address) string {
	if m := postcodeRegex.FindStringSubmatch(segment); m != nil {
		addr.Postcode = m[1]
		segment = strings.Replace(segment, m[0], "", 1)
	}

	tokens := strings.Fields(segment)
	// Longest state names span four tokens ("australian capital territory"
	// is three); try suffixes longest-first so "south australia" wins over "sa".
	for width := 4; width >= 1 && addr.State == ""; width-- {
		if len(tokens) < width {
			continue
		}
		candidate := strings.ToLower(strings.Join(tokens[len(tokens)-width:], " "))
		if st, ok := stateTable[candidate]; ok {
			addr.State = st
			tokens = tokens[:len(tokens)-width]
		}
	}

	return strings.Join(tokens, " ")
}

func parseStreet(segment string, addr *Address) error {
	if m := slashUnitRegex.FindStringSubmatch(segment); m != nil {
		addr.UnitType = "Unit"
		addr.UnitNumber = m[1]
		segment = m[2]
	} else if m := wordUnitRegex.FindStringSubmatch(segment); m != nil {
		addr.UnitType = unitTypes[strings.ToLower(m[1])]
		addr.UnitNumber = m[2]
		segment = m[3]
	}

	m := streetNumRegex.FindStringSubmatch(segment)
	if m == nil {
		return fmt.Errorf("no street number in %q", segment)
	}
	addr.StreetNumber = strings.ReplaceAll(multiSpaceRegex.ReplaceAllString(m[1], ""), " ", "")

	tokens := strings.Fields(m[2])
	if len(tokens) == 0 {
		return fmt.Errorf("no street name in %q", segment)
	}
	if st, ok := streetTypes[strings.ToLower(tokens[len(tokens)-1])]; ok && len(tokens) > 1 {
		addr.StreetType = st
		tokens = tokens[:len(tokens)-1]
	}
	addr.StreetName = strings.Join(tokens, " ")
	return nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
