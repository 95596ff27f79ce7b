package events

import (
	"strconv"

	"forwardnet/core/types"
)

const (
	// TypeDeploymentStarted marks a provisioning chain launched for a new market.
	TypeDeploymentStarted = "factory.deployment_started"
	// TypeDeploymentStep marks one settled step of a provisioning chain.
	TypeDeploymentStep = "factory.deployment_step"
	// TypeDeploymentStalled marks a chain halted by a failed step.
	TypeDeploymentStalled = "factory.deployment_stalled"
	// TypeMarketDeployed marks a market registered after a fully completed chain.
	TypeMarketDeployed = "factory.market_deployed"
)

// DeploymentStarted records the launch of a provisioning chain.
type DeploymentStarted struct {
	ID       uint64
	Key      string
	Creator  string
	MarketID string
	LongID   string
	ShortID  string
}

// EventType satisfies the events.Event interface.
func (DeploymentStarted) EventType() string { return TypeDeploymentStarted }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentStarted) Event() *types.Event {
	return &types.Event{Type: TypeDeploymentStarted, Attributes: map[string]string{
		"id":      strconv.FormatUint(e.ID, 10),
		"key":     e.Key,
		"creator": e.Creator,
		"market":  e.MarketID,
		"long":    e.LongID,
		"short":   e.ShortID,
	}}
}

// DeploymentStep records the completion or failure of one chain step.
type DeploymentStep struct {
	ID   uint64
	Step string
	OK   bool
}

// EventType satisfies the events.Event interface.
func (DeploymentStep) EventType() string { return TypeDeploymentStep }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentStep) Event() *types.Event {
	return &types.Event{Type: TypeDeploymentStep, Attributes: map[string]string{
		"id":   strconv.FormatUint(e.ID, 10),
		"step": e.Step,
		"ok":   strconv.FormatBool(e.OK),
	}}
}

// DeploymentStalled records a chain halted before registration.
type DeploymentStalled struct {
	ID   uint64
	Step string
}

// EventType satisfies the events.Event interface.
func (DeploymentStalled) EventType() string { return TypeDeploymentStalled }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentStalled) Event() *types.Event {
	return &types.Event{Type: TypeDeploymentStalled, Attributes: map[string]string{
		"id":   strconv.FormatUint(e.ID, 10),
		"step": e.Step,
	}}
}

// MarketDeployed records a market registered under its dedupe key.
type MarketDeployed struct {
	ID       uint64
	Key      string
	MarketID string
	Creator  string
}

// EventType satisfies the events.Event interface.
func (MarketDeployed) EventType() string { return TypeMarketDeployed }

// Event converts the structured payload into a broadcastable event.
func (e MarketDeployed) Event() *types.Event {
	return &types.Event{Type: TypeMarketDeployed, Attributes: map[string]string{
		"id":      strconv.FormatUint(e.ID, 10),
		"key":     e.Key,
		"market":  e.MarketID,
		"creator": e.Creator,
	}}
}
