package risks

import "encoding/json"

// The cache hands payload copies to every caller, so each payload type
// implements a deep Clone. Slices of plain structs copy element-wise;
// nested slices, maps, and raw JSON get their own backing storage.

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneCounts[K comparable](in map[K]int) map[K]int {
	if in == nil {
		return nil
	}
	out := make(map[K]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clonePhenomena(in []Phenomenon) []Phenomenon {
	if in == nil {
		return nil
	}
	out := make([]Phenomenon, len(in))
	for i, p := range in {
		p.Details = cloneStrings(p.Details)
		out[i] = p
	}
	return out
}

func (p *WeatherPayload) Clone() *WeatherPayload {
	out := *p
	out.Hazards = cloneStrings(p.Hazards)
	out.Today = clonePhenomena(p.Today)
	out.Tomorrow = clonePhenomena(p.Tomorrow)
	return &out
}

func (p *RiverPayload) Clone() *RiverPayload {
	out := *p
	out.Stations = cloneSlice(p.Stations)
	if p.Reaches != nil {
		out.Reaches = make([]Reach, len(p.Reaches))
		for i, r := range p.Reaches {
			r.Stations = cloneStrings(r.Stations)
			out.Reaches[i] = r
		}
	}
	return &out
}

func (p *RoadPayload) Clone() *RoadPayload {
	out := *p
	if p.Events != nil {
		out.Events = make([]RoadEvent, len(p.Events))
		for i, ev := range p.Events {
			ev.Roads = cloneStrings(ev.Roads)
			ev.Locations = cloneStrings(ev.Locations)
			out.Events[i] = ev
		}
	}
	out.Insights.Categories = cloneCounts(p.Insights.Categories)
	out.Insights.Severities = cloneCounts(p.Insights.Severities)
	out.Insights.TopRoads = cloneSlice(p.Insights.TopRoads)
	return &out
}

func (p *TrafficPayload) Clone() *TrafficPayload {
	out := *p
	return &out
}

func (p *RiskRegistryPayload) Clone() *RiskRegistryPayload {
	out := *p
	if p.Communes != nil {
		out.Communes = make([]CommuneRisks, len(p.Communes))
		for i, c := range p.Communes {
			c.Risks = cloneStrings(c.Risks)
			out.Communes[i] = c
		}
	}
	return &out
}

func (p *NewsPayload) Clone() *NewsPayload {
	out := *p
	if p.Items != nil {
		out.Items = make([]NewsItem, len(p.Items))
		for i, item := range p.Items {
			item.Hazards = cloneStrings(item.Hazards)
			out.Items[i] = item
		}
	}
	return &out
}

func (p *AirQualityPayload) Clone() *AirQualityPayload {
	out := *p
	return &out
}

func (p *RailPayload) Clone() *RailPayload {
	out := *p
	if p.Alerts != nil {
		out.Alerts = make([]RailAlert, len(p.Alerts))
		for i, alert := range p.Alerts {
			alert.Locations = cloneStrings(alert.Locations)
			out.Alerts[i] = alert
		}
	}
	return &out
}

func (p *WaterPayload) Clone() *WaterPayload {
	out := *p
	out.Restrictions = cloneSlice(p.Restrictions)
	return &out
}

func (p *PowerPayload) Clone() *PowerPayload {
	out := *p
	return &out
}

func (p *BoundaryPayload) Clone() *BoundaryPayload {
	out := *p
	if p.Geometry != nil {
		out.Geometry = make(json.RawMessage, len(p.Geometry))
		copy(out.Geometry, p.Geometry)
	}
	return &out
}
