// Package coastal resolves each river segment against the dense coastal
// transect dataset: nearest transect within a bounded association radius.
package coastal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/estuary-atlas/estuary-cli/internal/model"
)

const earthRadiusKM = 6371.0

// transectPoint embeds a transect on the unit sphere so tree distances are
// chord distances, monotone with great-circle distance everywhere on the
// globe (a planar lon/lat tree breaks near the poles and the antimeridian).
type transectPoint struct {
	x, y, z float64
	t       *model.Transect
}

func newTransectPoint(t *model.Transect) transectPoint {
	lon := t.Lon * math.Pi / 180
	lat := t.Lat * math.Pi / 180
	return transectPoint{
		x: math.Cos(lat) * math.Cos(lon),
		y: math.Cos(lat) * math.Sin(lon),
		z: math.Sin(lat),
		t: t,
	}
}

func (p transectPoint) Dims() int { return 3 }

func (p transectPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(transectPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	default:
		return p.z - q.z
	}
}

// Distance returns squared chord distance.
func (p transectPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(transectPoint)
	dx, dy, dz := p.x-q.x, p.y-q.y, p.z-q.z
	return dx*dx + dy*dy + dz*dz
}

type transectPoints []transectPoint

func (ps transectPoints) Index(i int) kdtree.Comparable { return ps[i] }
func (ps transectPoints) Len() int                      { return len(ps) }
func (ps transectPoints) Slice(start, end int) kdtree.Interface {
	return ps[start:end]
}
func (ps transectPoints) Pivot(d kdtree.Dim) int {
	return transectPlane{transectPoints: ps, Dim: d}.Pivot()
}

type transectPlane struct {
	transectPoints
	kdtree.Dim
}

func (p transectPlane) Less(i, j int) bool {
	return p.transectPoints[i].Compare(p.transectPoints[j], p.Dim) < 0
}
func (p transectPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
func (p transectPlane) Slice(start, end int) kdtree.SortSlicer {
	p.transectPoints = p.transectPoints[start:end]
	return p
}
func (p transectPlane) Swap(i, j int) {
	p.transectPoints[i], p.transectPoints[j] = p.transectPoints[j], p.transectPoints[i]
}

// Locator answers radius-bounded nearest-transect queries.
type Locator struct {
	tree      *kdtree.Tree
	transects []model.Transect
	radiusKM  float64
	chordSq   float64 // squared chord length of the association radius
}

// NewLocator indexes the transects for nearest lookups within radiusKM.
func NewLocator(transects []model.Transect, radiusKM float64) *Locator {
	pts := make(transectPoints, len(transects))
	for i := range transects {
		pts[i] = newTransectPoint(&transects[i])
	}
	chord := 2 * math.Sin(radiusKM/earthRadiusKM/2)
	return &Locator{
		tree:      kdtree.New(pts, false),
		transects: transects,
		radiusKM:  radiusKM,
		chordSq:   chord * chord,
	}
}

// Nearest returns the closest transect within the association radius and the
// great-circle distance to it in km. Equidistant candidates resolve to the
// lowest transect ID so repeated runs associate identically. ok is false when
// nothing lies within the radius.
func (l *Locator) Nearest(lon, lat float64) (t *model.Transect, distKM float64, ok bool) {
	if len(l.transects) == 0 {
		return nil, 0, false
	}
	query := newTransectPoint(&model.Transect{Lon: lon, Lat: lat})

	keeper := kdtree.NewDistKeeper(l.chordSq)
	l.tree.NearestSet(keeper, query)

	type hit struct {
		t  *model.Transect
		d2 float64
	}
	var hits []hit
	for _, item := range keeper.Heap {
		p, isPoint := item.Comparable.(transectPoint)
		if !isPoint {
			continue
		}
		hits = append(hits, hit{t: p.t, d2: item.Dist})
	}
	if len(hits) == 0 {
		return nil, 0, false
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].d2 != hits[j].d2 {
			return hits[i].d2 < hits[j].d2
		}
		return hits[i].t.ID < hits[j].t.ID
	})

	best := hits[0]
	chord := math.Sqrt(best.d2)
	distKM = earthRadiusKM * 2 * math.Asin(chord/2)
	return best.t, distKM, true
}
