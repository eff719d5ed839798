// Package api implements the HTTP REST API for echoscope-server.
//
// New(opts) returns an http.Handler that serves:
//
//	GET  /api/v1/health              — mean score of live sources, level counts
//	GET  /api/v1/sources             — latest report per live source, with diagnostics
//	GET  /api/v1/sources/{name}      — one live source; 404 if unknown or stale
//	GET  /api/v1/reports             — report history (?source=&level=&limit=)
//	GET  /api/v1/reports/{filename}  — one report artifact with diagnostics
//	GET  /api/v1/alerts              — firing and recently resolved alerts
//	POST /api/v1/analyze             — score an uploaded dataset (JSON or multipart "file")
//	POST /api/v1/ingest              — score one agent batch {source, created_at, samples}
//	POST /api/v1/generate            — synthesise a dataset and score it
//
// Status codes for the POST routes: 201 on success, 400 for unparseable or
// invalid input, 413 when the body exceeds the upload limit, 422 for a
// malformed sample.
//
// POST routes are wrapped with Options.Protect. JSON types are defined in
// types.go. No external HTTP framework is used.
package api
