package geomap

import "sort"

// Layer is a named grouping of features.
type Layer struct {
	name     string
	features map[string]*Feature
}

func newLayer(name string) *Layer {
	return &Layer{
		name:     name,
		features: make(map[string]*Feature),
	}
}

// Name returns the layer name.
func (l *Layer) Name() string {
	return l.name
}

// AddFeature puts f on the layer, taking it off any previous layer.
func (l *Layer) AddFeature(f *Feature) {
	if f.layer != nil && f.layer != l {
		f.layer.RemoveFeature(f)
	}
	l.features[f.id] = f
	f.layer = l
}

// RemoveFeature takes f off the layer. Unknown features are ignored.
func (l *Layer) RemoveFeature(f *Feature) {
	if cur, ok := l.features[f.id]; !ok || cur != f {
		return
	}
	delete(l.features, f.id)
	f.layer = nil
}

// Feature returns the feature with the given id.
func (l *Layer) Feature(id string) (*Feature, bool) {
	f, ok := l.features[id]
	return f, ok
}

// Len returns the number of features on the layer.
func (l *Layer) Len() int {
	return len(l.features)
}

// Features returns the layer's features sorted by id.
func (l *Layer) Features() []*Feature {
	out := make([]*Feature, 0, len(l.features))
	for _, f := range l.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
