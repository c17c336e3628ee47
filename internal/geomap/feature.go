package geomap

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/jpalmerr/mapboard/tuple"
)

// Feature is a point marker on a [Layer].
//
// A feature owns its tuple payload, its icon file name and at most one
// [Popup]. Features are not safe for concurrent use; the owner of the [Map]
// serializes access.
type Feature struct {
	id    string
	point geom.Point
	tuple tuple.Tuple
	icon  string
	layer *Layer
	popup *Popup
}

// NewFeature creates a feature that is not yet on any layer.
func NewFeature(id string, point geom.Point, t tuple.Tuple, icon string) *Feature {
	return &Feature{
		id:    id,
		point: point,
		tuple: t,
		icon:  icon,
	}
}

// ID returns the feature id ("<layer>:<tuple id>").
func (f *Feature) ID() string {
	return f.id
}

// Point returns the feature position in the working projection.
func (f *Feature) Point() geom.Point {
	return f.point
}

// Tuple returns the current payload.
func (f *Feature) Tuple() tuple.Tuple {
	return f.tuple
}

// SetTuple replaces the payload.
func (f *Feature) SetTuple(t tuple.Tuple) {
	f.tuple = t
}

// Icon returns the icon file name.
func (f *Feature) Icon() string {
	return f.icon
}

// SetIcon replaces the icon file name.
func (f *Feature) SetIcon(icon string) {
	f.icon = icon
}

// Layer returns the owning layer, or nil once removed.
func (f *Feature) Layer() *Layer {
	return f.layer
}

// Move relocates the feature. An open popup is not moved; callers refresh
// it with [Popup.MoveTo].
func (f *Feature) Move(p geom.Point) {
	f.point = p
}

// Popup returns the open popup, or nil.
func (f *Feature) Popup() *Popup {
	return f.popup
}

// OpenPopup opens a popup anchored on the feature. An already open popup is
// destroyed first.
func (f *Feature) OpenPopup(content string) *Popup {
	f.ClosePopup()
	f.popup = &Popup{
		content: content,
		anchor:  f.point,
	}
	return f.popup
}

// ClosePopup destroys the open popup, if any.
func (f *Feature) ClosePopup() {
	if f.popup == nil {
		return
	}
	f.popup.Destroy()
	f.popup = nil
}

// Release drops the payload and icon references after removal.
func (f *Feature) Release() {
	f.tuple = tuple.Tuple{}
	f.icon = ""
}

// Popup is the information window of a selected feature.
type Popup struct {
	content   string
	anchor    geom.Point
	destroyed bool
}

// Content returns the popup HTML.
func (p *Popup) Content() string {
	return p.content
}

// SetContent replaces the popup HTML.
func (p *Popup) SetContent(html string) {
	p.content = html
}

// Anchor returns the popup position.
func (p *Popup) Anchor() geom.Point {
	return p.anchor
}

// MoveTo repositions the popup.
func (p *Popup) MoveTo(pt geom.Point) {
	p.anchor = pt
}

// Destroy marks the popup destroyed and clears its content.
func (p *Popup) Destroy() {
	p.destroyed = true
	p.content = ""
}

// Destroyed reports whether [Popup.Destroy] was called.
func (p *Popup) Destroyed() bool {
	return p.destroyed
}
