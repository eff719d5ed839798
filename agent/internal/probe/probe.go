package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/echoscope/echoscope/agent/internal/config"
	"github.com/echoscope/echoscope/pkg/types"
)

// Result is the output of one probe cycle for a single source.
type Result struct {
	SourceID   string
	SourceType string
	ProbedAt   time.Time

	// Samples holds one entry per echo, in send order.
	Samples []types.EchoSample

	// Err is non-nil if the probe itself failed (resolve, socket, HTTP, parse).
	// The compute engine counts a non-nil Err as a down cycle.
	Err error
}

// Prober is the common interface implemented by every echo source.
type Prober interface {
	Probe(ctx context.Context) (*Result, error)
}

// New returns the appropriate Prober for the given source configuration.
func New(src config.Source) (Prober, error) {
	switch src.Type {
	case config.TypePing:
		return &pingProber{src: src, run: runPinger}, nil
	case config.TypeBlackbox:
		client, err := BuildHTTPClient(src.Auth, src.TLS, src.Timeout)
		if err != nil {
			return nil, fmt.Errorf("probe %q: build http client: %w", src.ID, err)
		}
		return &blackboxProber{src: src, client: client}, nil
	default:
		return nil, fmt.Errorf("probe: unsupported type %q", src.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// BuildHTTPClient constructs an http.Client for the given auth and TLS settings.
// The shipper uses it for the server connection as well.
func BuildHTTPClient(auth config.AuthConfig, tlsOpts config.TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if auth.CAFile != "" {
			caPEM, err := os.ReadFile(auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: auth,
		},
		Timeout: timeout,
	}, nil
}

func newResult(src config.Source, now time.Time) *Result {
	return &Result{
		SourceID:   src.ID,
		SourceType: src.Type,
		ProbedAt:   now.UTC(),
	}
}
