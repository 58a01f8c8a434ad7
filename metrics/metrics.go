// Package metrics collects vpsd registry gauges and optionally pushes
// them to an OpenTelemetry collector.
package metrics

import (
	"github.com/eaglenode/vpsd/vps"
)

// InfoProvider provides deployment information for metric labels.
type InfoProvider interface {
	GetDeploymentName() string
	GetVersion() string
}

// RegistryProvider provides read access to the instance registry.
type RegistryProvider interface {
	Snapshot() map[string]vps.Record
}

// Collector derives gauge values from the registry.
type Collector struct {
	infoProvider InfoProvider
	nodeUUID     string
	registry     RegistryProvider
}

// NewCollector creates a metrics collector.
func NewCollector(infoProvider InfoProvider, nodeUUID string, registry RegistryProvider) *Collector {
	return &Collector{
		infoProvider: infoProvider,
		nodeUUID:     nodeUUID,
		registry:     registry,
	}
}

// Counts is one sampling of the registry.
type Counts struct {
	Total    int
	PerOwner map[string]int
}

// Collect samples the registry.
func (c *Collector) Collect() Counts {
	snapshot := c.registry.Snapshot()
	counts := Counts{
		Total:    len(snapshot),
		PerOwner: make(map[string]int),
	}
	for _, rec := range snapshot {
		counts.PerOwner[rec.OwnerID]++
	}
	return counts
}
