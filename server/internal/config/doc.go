// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort          — port for the REST API and WebSocket hub (default 8080)
//   - ReportsDir        — where report artifacts are written (default "reports")
//   - Upload.MaxBytes   — request body limit for analyze and ingest (default 10 MiB)
//   - Auth.Mode         — "apikey" or "none"
//   - Auth.KeyEnv       — environment variable holding the expected API key
//   - Snapshot.TTL      — how long a source's latest report stays live (default 30m)
//   - Storage           — optional SQLite history index and retention
//   - Scoring           — score weights, level thresholds and malformed-sample mode
//   - Alerts            — rules and webhook / email targets
//   - WS.Interval       — WebSocket snapshot period (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch re-runs Load whenever the file changes. LoadEnv reads .env files.
package config
