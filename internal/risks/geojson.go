package risks

// Feature is a single GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a GeoJSON point geometry.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// StationsFeatureCollection renders the river stations as GeoJSON points
// for the dashboard map. Stations without coordinates are skipped.
func StationsFeatureCollection(p *RiverPayload) *FeatureCollection {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Features: []Feature{},
	}
	if p == nil {
		return fc
	}

	for _, st := range p.Stations {
		if st.Lat == 0 && st.Lon == 0 {
			continue
		}
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{st.Lon, st.Lat},
			},
			Properties: map[string]any{
				"code":        st.Code,
				"station":     st.Name,
				"river":       st.River,
				"height_m":    st.HeightM,
				"delta_m":     st.DeltaM,
				"level":       string(st.Level),
				"is_priority": st.Priority,
				"observed_at": st.ObservedAt,
				"reach":       st.Reach,
			},
		})
	}
	return fc
}
