// Package domain models the records that flow through the flood risk pipeline:
// source records keyed by ZIP code and year, the joined feature vectors, and
// the predictions served to callers.
//
// # Data Sources
//
// FEMA National Flood Hazard Layer (NFHL):
//
//	Queried through an ArcGIS REST overlay layer that intersects NFHL flood
//	zone polygons with 2020 ZIP Code Tabulation Areas. Each feature carries the
//	ZCTA code (ZCTA5CE20), the zone class (FLD_ZONE), and the share of the ZIP
//	area covered by that zone (AREA_PCT, 0–100). Maps are effective-dated, not
//	annual, so FEMA records are keyed by ZIP only.
//
//	Zone classes:
//	  A, AE, AH, AO, AR, A99, V, VE  → high risk (1% annual chance)
//	  X                              → moderate to low risk (0.2% annual chance)
//	  D                              → undetermined, ignored
//
//	Hazard score = min((high_pct*0.8 + moderate_pct*0.3) / 100, 1).
//
// NOAA Tides & Currents sea level trends:
//
//	One CSV per tide station ("<station>_meantrend.csv") with Year, Month and
//	Monthly_MSL in metres. Monthly values are averaged to annual means. The
//	sea level trend for a year is the least-squares slope (mm/yr) over a
//	trailing window of annual means. Storm surge frequency is the share of the
//	year's months whose detrended anomaly exceeds 1.5 standard deviations of
//	the station record.
//
// NFIP (OpenFEMA exports):
//
//	FimaNfipClaims and FimaNfipPolicies CSV exports, aggregated per ZIP and
//	year into claims counts, policy counts, paid amounts and average premium.
//	Monetary amounts use decimal arithmetic.
//
// Census / Zillow:
//
//	Per ZCTA and year: population, Zillow home value index, mean elevation,
//	distance to the coastline and the ZCTA centroid.
//
// # Missing Data
//
// Feature vectors never default silently. Each numeric feature is a [Measure]
// that is either valid or explicitly missing, and each source group records a
// [Provenance] (observed, interpolated, extrapolated, carried_forward, imputed
// or missing).
//
// # Identity
//
// Snapshots are identified by a SHA-256 content hash so that two loads of
// identical upstream data yield the same snapshot ID. See [HashJSON].
package domain
