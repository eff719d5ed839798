// Package auth provides authentication middleware for echoscope-server.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API
// key carried in the named request header. The server wraps the mutating
// /api/v1 routes (analyze, ingest, generate) with it; read routes stay open.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
