package markers

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jpalmerr/mapboard/tuple"
)

// popupIndent doubles as the line break of the rendered listing.
const popupIndent = "<br />"

var delimiterStripper = strings.NewReplacer(`"`, "", "{", "", "}", "")

// PopupText returns the popup text for a tuple.
//
// A non-empty note is used verbatim. Otherwise the tuple is rendered as a
// key/value listing: its fields as indented JSON, with markerType and
// empty-string fields left out, indentation replaced by "<br />" line
// breaks and the JSON delimiters removed.
func PopupText(t tuple.Tuple) string {
	if t.Note != "" {
		return t.Note
	}

	compact, err := t.Compact(skipInPopup)
	if err != nil {
		return ""
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, compact, "", popupIndent); err != nil {
		return ""
	}

	text := delimiterStripper.Replace(indented.String())
	return strings.TrimPrefix(text, "\n"+popupIndent)
}

// PopupHTML wraps the popup text for display.
func PopupHTML(t tuple.Tuple) string {
	return "<div>" + PopupText(t) + "</div>"
}

func skipInPopup(f tuple.Field) bool {
	return f.Key == tuple.FieldMarkerType || string(f.Value) == `""`
}
