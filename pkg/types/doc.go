// Package types defines the Go types shared by the agent, the server and
// echoctl: echo samples, datasets, health reports and the persisted report
// artifact. JSON tags here are the wire and on-disk contract.
package types
