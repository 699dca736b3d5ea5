package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"

	vc "github.com/Mikeedozie/PAMS/internal/cfg"
)

// settings gathers the app config and every go-core package config that
// registers flags on the command line.
type settings struct {
	app    vc.Config
	http   httpserver.Config
	httpmw httpmw.Config
	log    log.Config
	ops    opshttp.Config
	prof   prof.Config
	trace  otelx.Config
}

func (s *settings) register(fs *flag.FlagSet) {
	s.app.RegisterFlags(fs)
	s.http.RegisterFlags(fs)
	s.httpmw.RegisterFlags(fs)
	s.log.RegisterFlags(fs)
	s.ops.RegisterFlags(fs)
	s.prof.RegisterFlags(fs)
	s.trace.RegisterFlags(fs)
}

// validate runs each package's checks, then the ones spanning packages.
func (s *settings) validate() error {
	err := errors.Join(
		s.app.Validate(),
		s.http.Validate(),
		s.httpmw.Validate(),
		s.log.Validate(),
		s.ops.Validate(),
		s.prof.Validate(),
		s.trace.Validate(),
	)
	if s.app.APIPort == s.ops.Port {
		err = errors.Join(err, fmt.Errorf("http and admin ports must differ (both %d)", s.app.APIPort))
	}
	return err
}

// logFields summarises the effective configuration for the startup log.
// Secrets (database URL, webhook, tokens) are reported as booleans.
func (s *settings) logFields() []any {
	return []any{
		"http_port", s.app.APIPort,
		"admin_port", s.ops.Port,
		"enable_pprof", s.ops.EnablePprof,
		"enable_pyroscope", s.prof.EnablePyroscope,
		"enable_tracing", s.trace.EnableTracing,
		"trace_sample", s.trace.TraceSample,
		"otlp_endpoint", s.trace.OTLPEndpoint,
		"trusted_proxy_hops", s.httpmw.TrustedProxyHops,
		"postgres", s.app.DatabaseURL != "",
		"slack", s.app.SlackWebhookURL != "",
		"api_auth", len(s.app.APITokens()) > 0,
		"kafka", len(s.app.Brokers()) > 0,
		"redis_locks", s.app.RedisAddr != "",
		"dedup_lookback", s.app.DedupLookback.String(),
		"escalation_interval", s.app.EscalationInterval.String(),
		"sla_policy_file", s.app.SLAPolicyFile,
	}
}
