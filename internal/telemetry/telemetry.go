// Package telemetry provides semantic conventions and meter helpers for
// venuelink observability.
package telemetry

import (
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic convention attribute keys. Following OpenTelemetry naming
// conventions: namespace.attribute_name

const (
	// AttrVenue identifies which venue or chain produced the signal.
	AttrVenue = attribute.Key("venue")
	// AttrChain labels chain-provider metrics (ethereum, solana, ...).
	AttrChain = attribute.Key("chain")
	// AttrOperation differentiates adapter operations (spot_balances, trade_history, ...).
	AttrOperation = attribute.Key("operation")
	// AttrErrorClass categorizes failures by taxonomy class.
	AttrErrorClass = attribute.Key("error.class")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// Environment resolves the deployment environment label, defaulting to dev.
func Environment() string {
	env := strings.TrimSpace(os.Getenv("VENUELINK_ENV"))
	if env == "" {
		return "dev"
	}
	return env
}

// Meter returns the named venuelink meter.
func Meter(component string) metric.Meter {
	return otel.Meter("venuelink." + component)
}
