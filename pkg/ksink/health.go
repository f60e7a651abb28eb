package ksink

import "context"

// pingProbe is the default HealthProbe, grounded in the same
// client.Ping-based readiness check used by the apm-queue producer in
// the example corpus. Applications needing a richer check (e.g. topic
// existence) should supply their own HealthProbe via WithHealthProbe.
type pingProbe struct {
	client Producer
}

func newPingProbe(client Producer) *pingProbe { return &pingProbe{client: client} }

func (p *pingProbe) Ready(ctx context.Context) error   { return p.client.Ping(ctx) }
func (p *pingProbe) Started(ctx context.Context) error { return p.client.Ping(ctx) }
func (p *pingProbe) Close() error                      { return nil }
