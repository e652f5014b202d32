package txn

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/identikit/go-identity-sdk/txn")

var (
	SubmittedCounter    metric.Int64Counter
	TerminalCounter     metric.Int64Counter
	TimeoutCounter      metric.Int64Counter
	ConfirmationSeconds metric.Float64Histogram
	InflightGauge       metric.Int64Gauge
)

func init() {
	var err error
	SubmittedCounter, err = meter.Int64Counter("identity_sdk_txn_submitted",
		metric.WithDescription("Extrinsics accepted into the transaction pool"),
	)
	if err != nil {
		panic(err)
	}
	TerminalCounter, err = meter.Int64Counter("identity_sdk_txn_terminal",
		metric.WithDescription("Transactions that reached a terminal status, by status"),
	)
	if err != nil {
		panic(err)
	}
	TimeoutCounter, err = meter.Int64Counter("identity_sdk_txn_confirmation_timeouts",
		metric.WithDescription("Confirmation waits that gave up before a terminal status"),
	)
	if err != nil {
		panic(err)
	}
	ConfirmationSeconds, err = meter.Float64Histogram("identity_sdk_txn_confirmation_seconds",
		metric.WithDescription("Time from submission to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
	InflightGauge, err = meter.Int64Gauge("identity_sdk_txn_inflight",
		metric.WithDescription("Transactions awaiting a terminal status"),
	)
	if err != nil {
		panic(err)
	}
}
