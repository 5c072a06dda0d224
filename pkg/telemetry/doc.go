// Package telemetry provides observability for the governor.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and a decision event stream.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the request context:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Package policy picks the instance up with FromTelemetryContext. Without one
// in the context every hook is a no-op, so the policy engine runs the same
// way in tests and in the CLI.
//
// # Metrics
//
//   - governor_decisions_total{action_type,outcome,risk}
//   - governor_decision_duration_seconds{action_type}
//   - governor_denials_total{code}
//   - governor_approvals_requested_total{action_type}
//   - governor_approvals_decided_total{status}
//   - governor_pending_approvals
//   - governor_runtime_stops_total{limit}
//   - governor_guardrail_violations_total{rule,blocking}
//   - governor_guardrail_rules
//   - governor_collaborator_errors_total{collaborator}
//
// Metrics are served by the API server at /metrics, or by a standalone
// server when MetricsConfig.ListenAddress is set.
//
// # Events
//
// Every decision, approval and guardrail finding is published as an Event.
// Subscribers receive events in publish order:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Exporters
//
// Tracing supports "otlp" (gRPC), "stdout" and "none".
package telemetry
