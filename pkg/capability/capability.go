// Package capability models the node's allocatable device resources (the
// GRES-equivalent of §6): GPUs, NICs, or any other discrete resource a
// step's credential authorizes a fixed count of. An Allocator hands out
// DeviceHandles that pkg/runtime turns into OCI device cgroup entries.
package capability

import (
	"fmt"
	"sync"
)

// DeviceHandle identifies one allocated device unit.
type DeviceHandle struct {
	Kind        string // e.g. "gpu", "nic"
	ID          string // provider-defined device identifier
	BindingHint string // e.g. a PCI bus ID or NUMA node, opaque to this package
}

// Provider is a narrow interface a capability backend implements; the
// no-op DefaultProvider below satisfies it when no real device inventory
// is configured.
type Provider interface {
	// Devices returns the node's full inventory for the given kind.
	Devices(kind string) []DeviceHandle
}

// DefaultProvider reports no devices of any kind. Nodes with no GRES
// configuration use this so the allocator still behaves correctly
// (0 of anything available) instead of requiring a nil check everywhere.
type DefaultProvider struct{}

func (DefaultProvider) Devices(kind string) []DeviceHandle { return nil }

// Allocator tracks which of a node's devices are currently bound to a
// running step, so concurrent steps never receive the same device.
type Allocator struct {
	mu       sync.Mutex
	provider Provider
	inUse    map[string]bool // device key -> bound
}

// NewAllocator creates an allocator backed by provider. Pass
// DefaultProvider{} when the node has no device inventory configured.
func NewAllocator(provider Provider) *Allocator {
	if provider == nil {
		provider = DefaultProvider{}
	}
	return &Allocator{provider: provider, inUse: make(map[string]bool)}
}

func deviceKey(kind, id string) string { return kind + "/" + id }

// Allocate reserves count devices of kind for a step, returning the bound
// handles. Returns an error if the node does not have count free devices
// of that kind.
func (a *Allocator) Allocate(kind string, count int) ([]DeviceHandle, error) {
	if count == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var free []DeviceHandle
	for _, d := range a.provider.Devices(kind) {
		if !a.inUse[deviceKey(d.Kind, d.ID)] {
			free = append(free, d)
		}
	}
	if len(free) < count {
		return nil, fmt.Errorf("capability: requested %d %s, only %d free", count, kind, len(free))
	}

	bound := free[:count]
	for _, d := range bound {
		a.inUse[deviceKey(d.Kind, d.ID)] = true
	}
	return bound, nil
}

// Release returns previously allocated handles to the free pool. Called
// when a step's containers are torn down.
func (a *Allocator) Release(handles []DeviceHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range handles {
		delete(a.inUse, deviceKey(d.Kind, d.ID))
	}
}
