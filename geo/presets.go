package geo

import "propsift/models"

// Preset weights POI categories for one buyer profile. Presets differ only
// in weight distribution; adding a profile means adding data here, not code.
type Preset map[string]float64

const DefaultPreset = "family"

var Presets = map[string]Preset{
	"family": {
		models.POISchool:    3.0,
		models.POIPark:      2.5,
		models.POIShopping:  1.5,
		models.POITransport: 1.5,
		models.POIMedical:   1.5,
		models.POICafe:      1.0,
	},
	"investor": {
		models.POITransport: 3.0,
		models.POIShopping:  2.5,
		models.POICafe:      2.0,
		models.POISchool:    1.0,
		models.POIPark:      1.0,
		models.POIMedical:   1.0,
	},
	"student": {
		models.POITransport: 3.0,
		models.POICafe:      2.5,
		models.POIShopping:  2.0,
		models.POIPark:      1.0,
		models.POIMedical:   1.0,
		models.POISchool:    0.5,
	},
	"retiree": {
		models.POIMedical:   3.0,
		models.POIPark:      2.5,
		models.POIShopping:  2.0,
		models.POITransport: 1.5,
		models.POICafe:      1.5,
		models.POISchool:    0.5,
	},
}

// PresetFor returns the named preset, falling back to the default.
func PresetFor(name string) Preset {
	if p, ok := Presets[name]; ok {
		return p
	}
	return Presets[DefaultPreset]
}
