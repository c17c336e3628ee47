// Package geomap is the in-process map model the marker synchronizer drives:
// a working projection, named layers of point features, feature popups and
// a one-time viewport center.
//
// All coordinates held by the model are in the working projection; tuples
// are projected from WGS84 by a [Projector] on the way in. The model is not
// safe for concurrent use.
package geomap

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	geom "github.com/peterstace/simplefeatures/geom"
)

// DefaultLayerName is the name of the layer tuples without a "layer" field
// land on.
const DefaultLayerName = "Markers"

// Map holds the layers, the viewport and the working projection.
type Map struct {
	projector    *Projector
	defaultLayer *Layer
	layers       map[string]*Layer
	order        []string
	center       geom.Point
	zoom         int
}

// New creates a map with the given projector and default layer. An empty
// defaultLayer uses [DefaultLayerName].
func New(projector *Projector, defaultLayer string) *Map {
	if defaultLayer == "" {
		defaultLayer = DefaultLayerName
	}
	m := &Map{
		projector: projector,
		layers:    make(map[string]*Layer),
		center:    geom.NewEmptyPoint(geom.DimXY),
	}
	m.defaultLayer = m.AddLayer(defaultLayer)
	return m
}

// Projector returns the map's projector.
func (m *Map) Projector() *Projector {
	return m.projector
}

// DefaultLayer returns the layer that always exists.
func (m *Map) DefaultLayer() *Layer {
	return m.defaultLayer
}

// AddLayer returns the named layer, creating it if needed. Layers are never
// removed.
func (m *Map) AddLayer(name string) *Layer {
	if l, ok := m.layers[name]; ok {
		return l
	}
	l := newLayer(name)
	m.layers[name] = l
	m.order = append(m.order, name)
	return l
}

// Layer returns the named layer.
func (m *Map) Layer(name string) (*Layer, bool) {
	l, ok := m.layers[name]
	return l, ok
}

// Layers returns all layers in creation order.
func (m *Map) Layers() []*Layer {
	out := make([]*Layer, len(m.order))
	for i, name := range m.order {
		out[i] = m.layers[name]
	}
	return out
}

// Center returns the viewport center, if one was set.
func (m *Map) Center() (geom.Point, bool) {
	if m.center.IsEmpty() {
		return m.center, false
	}
	return m.center, true
}

// Zoom returns the zoom level set with the center.
func (m *Map) Zoom() int {
	return m.zoom
}

// SetCenter sets the viewport.
func (m *Map) SetCenter(p geom.Point, zoom int) {
	m.center = p
	m.zoom = zoom
}

// FeatureCollection exports every feature as GeoJSON in the working
// projection, layer by layer. The collection carries "center", "zoom",
// "projection" and "layers" as foreign members.
func (m *Map) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	names := make([]string, 0, len(m.order))
	for _, layer := range m.Layers() {
		names = append(names, layer.Name())
		for _, f := range layer.Features() {
			fc.Append(toGeoJSON(f))
		}
	}

	fc.ExtraMembers = geojson.Properties{
		"layers": names,
		"zoom":   m.zoom,
		"center": nil,
	}
	if m.projector != nil {
		fc.ExtraMembers["projection"] = m.projector.Name()
	}
	if c, ok := m.Center(); ok {
		fc.ExtraMembers["center"] = toOrb(c)
	}
	return fc
}

func toGeoJSON(f *Feature) *geojson.Feature {
	gf := geojson.NewFeature(toOrb(f.point))
	gf.ID = f.id
	gf.Properties["layer"] = f.layer.Name()
	gf.Properties["icon"] = f.icon
	if data, err := f.tuple.MarshalJSON(); err == nil {
		gf.Properties["tuple"] = json.RawMessage(data)
	}
	if f.popup != nil {
		gf.Properties["popup"] = f.popup.Content()
	}
	return gf
}

func toOrb(p geom.Point) orb.Point {
	xy, ok := p.XY()
	if !ok {
		return orb.Point{}
	}
	return orb.Point{xy.X, xy.Y}
}
