// Package config loads the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` tree; the `server:` key is ignored
//   - AgentConfig: server_endpoint, probe_interval, ship_interval, batch_size,
//     buffer_size, sources [], server_auth
//   - Source: id, type (ping|blackbox), target, endpoint, count, timeout,
//     privileged, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; Key(), Token() and
//     Password() resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (10s probe, 15s ship,
// 30-sample batches, 100-batch buffer, 5 echoes, 5s timeout), then
// validates required fields and enums. LoadEnv reads .env files.
package config
