package geo

// Reference geometry for the monitored river network. The vertex lists are
// coarse traces of the valley floors, dense enough for nearest-vertex
// snapping at departmental scale. Deployments can replace them wholesale
// through NewSnapper.

// DefaultSegments traces the Drac and the three Isère reaches crossing the
// department.
func DefaultSegments() []Segment {
	return []Segment{
		{
			Code: "DRAC1",
			Name: "Drac",
			Vertices: []Point{
				{Lat: 44.9180, Lon: 5.9480},
				{Lat: 45.0120, Lon: 5.8410},
				{Lat: 45.0830, Lon: 5.7540},
				{Lat: 45.1210, Lon: 5.7020},
				{Lat: 45.1520, Lon: 5.6930},
				{Lat: 45.1710, Lon: 5.6950},
				{Lat: 45.1890, Lon: 5.7010},
			},
		},
		{
			Code: "ISERE1",
			Name: "Isère",
			Vertices: []Point{
				{Lat: 45.4660, Lon: 6.0550},
				{Lat: 45.4280, Lon: 5.9970},
				{Lat: 45.3840, Lon: 5.9720},
				{Lat: 45.3370, Lon: 5.9350},
				{Lat: 45.2880, Lon: 5.8890},
			},
		},
		{
			Code: "ISERE2",
			Name: "Isère",
			Vertices: []Point{
				{Lat: 45.2880, Lon: 5.8890},
				{Lat: 45.2470, Lon: 5.8320},
				{Lat: 45.2120, Lon: 5.7760},
				{Lat: 45.1970, Lon: 5.7340},
				{Lat: 45.1885, Lon: 5.7245},
				{Lat: 45.2010, Lon: 5.6780},
			},
		},
		{
			Code: "ISERE3",
			Name: "Isère",
			Vertices: []Point{
				{Lat: 45.2010, Lon: 5.6780},
				{Lat: 45.2430, Lon: 5.6120},
				{Lat: 45.2760, Lon: 5.5480},
				{Lat: 45.3100, Lon: 5.4610},
				{Lat: 45.3400, Lon: 5.3570},
				{Lat: 45.3560, Lon: 5.2810},
			},
		},
	}
}

// DefaultAliases maps alternate spellings seen in upstream station labels
// onto the segment names above.
func DefaultAliases() map[string]string {
	return map[string]string{
		"l isere":  "Isère",
		"le drac":  "Drac",
		"drac ava": "Drac",
	}
}
