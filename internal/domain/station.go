package domain

import (
	"log/slog"
	"math"
	"sort"
)

const earthRadiusKM = 6371.0

// Station is a NOAA tide gauge.
type Station struct {
	ID   string  `json:"id" koanf:"id"`
	Name string  `json:"name" koanf:"name"`
	Lat  float64 `json:"lat" koanf:"lat"`
	Lon  float64 `json:"lon" koanf:"lon"`
}

// DistanceKM returns the great-circle distance between two WGS-84 points.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

// NearestStation returns the station closest to (lat, lon). Ties resolve to
// the lowest station ID so the choice is deterministic.
func NearestStation(lat, lon float64, stations []Station) (Station, bool) {
	if len(stations) == 0 {
		return Station{}, false
	}
	sorted := append([]Station(nil), stations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	best := sorted[0]
	bestDist := DistanceKM(lat, lon, best.Lat, best.Lon)
	for _, s := range sorted[1:] {
		if d := DistanceKM(lat, lon, s.Lat, s.Lon); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, true
}

// AssignStations resolves the tide station for each ZIP code. Explicit
// assignments win; otherwise the nearest station to the ZIP centroid is used.
// ZIPs with neither are left out and logged (graceful degradation: NOAA
// coverage is then reported as unavailable for them).
func AssignStations(zips []string, explicit map[string]string, centroids map[string]GeoUnit, stations []Station, logger *slog.Logger) map[string]string {
	out := make(map[string]string, len(zips))
	for _, zip := range zips {
		if id := explicit[zip]; id != "" {
			out[zip] = id
			continue
		}
		c, ok := centroids[zip]
		if !ok || (c.Lat == 0 && c.Lon == 0) {
			logger.Warn("no tide station for zip", "zip", zip, "reason", "missing centroid")
			continue
		}
		s, ok := NearestStation(c.Lat, c.Lon, stations)
		if !ok {
			logger.Warn("no tide station for zip", "zip", zip, "reason", "no stations configured")
			continue
		}
		out[zip] = s.ID
	}
	return out
}
