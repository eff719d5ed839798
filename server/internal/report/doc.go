// Package report persists HealthReports as JSON artifacts on disk and reads
// them back for listing and display.
//
// File names are deterministic and collision-free:
//
//	health_report_<yyyymmddTHHMMSSZ>_<source>_<id8>.json
//
// where id8 is the first 8 hex chars of the report's UUID. Writes go to a
// temp file in the same directory and are renamed into place.
package report
