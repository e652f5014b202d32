package zkproof

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/identikit/go-identity-sdk/zkproof")

var (
	GeneratedCounter  metric.Int64Counter
	GenerationSeconds metric.Float64Histogram
	VerifiedCounter   metric.Int64Counter
	GroupMembersGauge metric.Int64Gauge
)

func init() {
	var err error
	GeneratedCounter, err = meter.Int64Counter("identity_sdk_proofs_generated",
		metric.WithDescription("Proofs produced by the proving backend, by circuit"),
	)
	if err != nil {
		panic(err)
	}
	GenerationSeconds, err = meter.Float64Histogram("identity_sdk_proof_generation_seconds",
		metric.WithDescription("Time spent in the proving backend"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	VerifiedCounter, err = meter.Int64Counter("identity_sdk_proofs_verified",
		metric.WithDescription("Proof verifications, by result"),
	)
	if err != nil {
		panic(err)
	}
	GroupMembersGauge, err = meter.Int64Gauge("identity_sdk_group_members",
		metric.WithDescription("Members enrolled in a circuit's group"),
	)
	if err != nil {
		panic(err)
	}
}
