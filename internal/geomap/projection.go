package geomap

import (
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

const (
	// GeographicEPSG is the coordinate system tuples arrive in (WGS84 lon/lat).
	GeographicEPSG = 4326

	// WebMercatorEPSG is the default working projection of the map.
	WebMercatorEPSG = 3857
)

var (
	// ErrUnknownProjection is returned when an EPSG code cannot be used as
	// the map's working projection.
	ErrUnknownProjection = errors.New("unknown projection")

	// ErrNotProjectable is returned for a coordinate whose projection is not
	// a finite point.
	ErrNotProjectable = errors.New("coordinate not projectable")
)

// Projector reprojects WGS84 longitude/latitude into the map's working
// projection.
type Projector struct {
	epsg      int
	transform func(a, b, c float64) (float64, float64, float64)
}

// NewProjector returns a [Projector] from EPSG:4326 into the given EPSG code.
func NewProjector(epsg int) (*Projector, error) {
	if epsg <= 0 {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnknownProjection, epsg)
	}

	p := &Projector{
		epsg:      epsg,
		transform: wgs84.EPSG().Transform(GeographicEPSG, epsg),
	}

	// probe the origin; unsupported codes produce NaN
	if x, y, ok := p.try(0, 0); !ok || math.IsNaN(x) || math.IsNaN(y) {
		return nil, fmt.Errorf("%w: EPSG:%d", ErrUnknownProjection, epsg)
	}
	return p, nil
}

// EPSG returns the code of the working projection.
func (p *Projector) EPSG() int {
	return p.epsg
}

// Name returns the projection in "EPSG:<code>" form.
func (p *Projector) Name() string {
	return fmt.Sprintf("EPSG:%d", p.epsg)
}

// Project converts a WGS84 longitude/latitude into a point in the working
// projection. Inputs or results that are NaN or infinite give
// [ErrNotProjectable] and an empty point.
func (p *Projector) Project(longitude, latitude float64) (geom.Point, error) {
	x, y, ok := p.try(longitude, latitude)
	if !ok || !finite(x) || !finite(y) {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("%w: (%g, %g) in %s", ErrNotProjectable, longitude, latitude, p.Name())
	}
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("%w: %v", ErrNotProjectable, err)
	}
	return pt, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// try runs the transform with panic recovery.
func (p *Projector) try(longitude, latitude float64) (x, y float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	x, y, _ = p.transform(longitude, latitude, 0)
	return x, y, true
}
