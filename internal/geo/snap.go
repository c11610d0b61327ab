package geo

import (
	"math"
	"strings"
)

const kmPerDegree = 111.32

// Segment is a traced river reach: an ordered polyline of vertices the
// snapping engine can pull station coordinates onto.
type Segment struct {
	Code     string
	Name     string
	Vertices []Point
}

// SnapResult describes where a station landed on the reference network.
type SnapResult struct {
	Point      Point
	Segment    string
	Code       string
	DistanceKm float64
}

// Snapper matches point observations onto traced segments by river name.
// Candidate segments are selected through a small alias table keyed on the
// normalized river name; the closest polyline vertex across all candidates
// wins.
type Snapper struct {
	aliases map[string][]Segment
}

// NewSnapper indexes the segments by their normalized name. Extra aliases
// map alternate river spellings onto the same segments.
func NewSnapper(segments []Segment, aliases map[string]string) *Snapper {
	index := make(map[string][]Segment)
	for _, seg := range segments {
		key := NormalizeName(seg.Name)
		index[key] = append(index[key], seg)
	}
	for alias, target := range aliases {
		if segs, ok := index[NormalizeName(target)]; ok {
			index[NormalizeName(alias)] = segs
		}
	}
	return &Snapper{aliases: index}
}

// Snap finds the segment vertex closest to the reference point among the
// candidates matching the river name. It returns false when no segment
// matches the name or the reference point is unusable; the caller then
// keeps the station's original coordinates.
func (s *Snapper) Snap(riverName string, reference Point) (SnapResult, bool) {
	if !PlausibleCoordinates(reference.Lat, reference.Lon) {
		return SnapResult{}, false
	}

	candidates := s.candidates(riverName)
	if len(candidates) == 0 {
		return SnapResult{}, false
	}

	best := SnapResult{DistanceKm: math.MaxFloat64}
	for _, seg := range candidates {
		for _, v := range seg.Vertices {
			d := DistanceKm(reference, v)
			if d < best.DistanceKm {
				best = SnapResult{Point: v, Segment: seg.Name, Code: seg.Code, DistanceKm: d}
			}
		}
	}
	if best.DistanceKm == math.MaxFloat64 {
		return SnapResult{}, false
	}
	return best, true
}

func (s *Snapper) candidates(riverName string) []Segment {
	key := NormalizeName(riverName)
	if key == "" {
		return nil
	}
	if segs, ok := s.aliases[key]; ok {
		return segs
	}
	// River labels sometimes carry qualifiers ("L'Isère à Grenoble").
	for alias, segs := range s.aliases {
		if strings.Contains(key, alias) {
			return segs
		}
	}
	return nil
}

// DistanceKm approximates the distance between two points with an
// equirectangular projection. Not geodesic, but accurate enough at the
// scale of one department.
func DistanceKm(a, b Point) float64 {
	meanLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dLat := (b.Lat - a.Lat) * kmPerDegree
	dLon := (b.Lon - a.Lon) * kmPerDegree * math.Cos(meanLat)
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// PlausibleCoordinates rejects null island and out-of-range values.
func PlausibleCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
