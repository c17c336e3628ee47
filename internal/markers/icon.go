package markers

// DefaultIcon is used for tuples without a markerType.
const DefaultIcon = "marker-blue.png"

var icons = map[string]string{
	"GREEN":   "marker-green.png",
	"YELLOW":  "marker-gold.png",
	"RED":     "marker-red.png",
	"BLUE":    "marker-blue.png",
	"WARNING": "marker-warning.png",
	"AWARD":   "marker-award.png",
}

// Icon maps a markerType to an icon file name. An empty markerType yields
// [DefaultIcon]; unrecognized values are returned unchanged so callers can
// name their own icon files.
func Icon(markerType string) string {
	if markerType == "" {
		return DefaultIcon
	}
	if icon, ok := icons[markerType]; ok {
		return icon
	}
	return markerType
}
