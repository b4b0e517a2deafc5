// Package descriptor provides read-only access to VNF descriptors (VNFDs).
// The planner treats a descriptor as cached-per-operation input; parsing the
// packaging format (CSAR/TOSCA) is an external concern, so this package only
// defines the resolved shape and a static provider fed from YAML documents.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sigs.k8s.io/yaml"
)

// ErrDescriptorNotFound is returned when no descriptor exists for a vnfdId.
var ErrDescriptorNotFound = errors.New("descriptor not found")

// Descriptor is the resolved, deployable shape of a VNF.
type Descriptor struct {
	// VnfdID is the descriptor identifier referenced by VNF instances.
	VnfdID string `json:"vnfdId"`

	// Provider is the descriptor vendor.
	Provider string `json:"provider,omitempty"`

	// ProductName is the VNF product name.
	ProductName string `json:"productName,omitempty"`

	// SoftwareVersion is the VNF software version.
	SoftwareVersion string `json:"softwareVersion,omitempty"`

	// Version is the descriptor version.
	Version string `json:"version,omitempty"`

	// Vdus maps VDU id to its template.
	Vdus map[string]Vdu `json:"vdus"`

	// Flavours maps deployment flavour id to its definition.
	Flavours map[string]Flavour `json:"flavours"`

	// ScalingAspects maps aspect id to its scaling policy.
	ScalingAspects map[string]ScalingAspect `json:"scalingAspects,omitempty"`
}

// Vdu is a compute-unit template within a descriptor.
type Vdu struct {
	// ImageID is the software image the VDU boots.
	ImageID string `json:"imageId"`

	// FlavourID is the compute flavour (sizing) of the VDU.
	FlavourID string `json:"flavourId"`

	// ConnectionPoints lists the VDU's connection point descriptors.
	ConnectionPoints []ConnectionPoint `json:"connectionPoints,omitempty"`
}

// ConnectionPoint is a connection point descriptor on a VDU.
type ConnectionPoint struct {
	// ID is the connection point descriptor id (cpdId).
	ID string `json:"id"`

	// VirtualLinkID is the internal virtual link the CP attaches to.
	// Empty when the CP is external-only.
	VirtualLinkID string `json:"virtualLinkId,omitempty"`

	// External marks a CP that must be bound to an external virtual link
	// at instantiation.
	External bool `json:"external,omitempty"`
}

// Flavour is one deployment flavour of a VNF.
type Flavour struct {
	// DefaultLevelID is the instantiation level used when the request
	// does not name one.
	DefaultLevelID string `json:"defaultLevelId"`

	// InstantiationLevels maps level id to per-VDU instance counts.
	InstantiationLevels map[string]InstantiationLevel `json:"instantiationLevels"`
}

// InstantiationLevel fixes the number of VNFC instances per VDU.
type InstantiationLevel struct {
	// VduLevels maps VDU id to the number of instances at this level.
	VduLevels map[string]int `json:"vduLevels"`
}

// ScalingAspect is a named dimension along which a VNF scales.
type ScalingAspect struct {
	// VduID is the VDU this aspect adds or removes instances of.
	VduID string `json:"vduId"`

	// MaxScaleLevel is the highest level the aspect may reach. Level 0 is
	// the instantiation-level baseline.
	MaxScaleLevel int `json:"maxScaleLevel"`

	// StepDelta is the number of VNFC instances added per level. Defaults
	// to 1 when omitted.
	StepDelta int `json:"stepDelta,omitempty"`
}

// InstancesPerStep returns the VNFC count added per scale level.
func (a ScalingAspect) InstancesPerStep() int {
	if a.StepDelta <= 0 {
		return 1
	}
	return a.StepDelta
}

// Provider resolves descriptors by id. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Get retrieves a descriptor by vnfdId.
	// Returns ErrDescriptorNotFound if the descriptor does not exist.
	Get(ctx context.Context, vnfdID string) (*Descriptor, error)
}

// StaticProvider is an in-memory descriptor registry. It is populated
// programmatically or from YAML documents on disk and is suitable for
// deployments where descriptors are onboarded out of band.
type StaticProvider struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds or replaces a descriptor.
// Returns an error if the descriptor fails validation.
func (p *StaticProvider) Register(d *Descriptor) error {
	if err := Validate(d); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.descriptors[d.VnfdID] = d

	return nil
}

// Get retrieves a descriptor by vnfdId.
func (p *StaticProvider) Get(_ context.Context, vnfdID string) (*Descriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	d, ok := p.descriptors[vnfdID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, vnfdID)
	}

	return d, nil
}

// LoadDir loads every *.yaml/*.yml file in dir as one descriptor each.
func (p *StaticProvider) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read descriptor directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read descriptor %s: %w", entry.Name(), err)
		}

		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("failed to parse descriptor %s: %w", entry.Name(), err)
		}

		if err := p.Register(&d); err != nil {
			return fmt.Errorf("invalid descriptor %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// Validate checks the internal consistency of a descriptor: every flavour
// level and scaling aspect must reference declared VDUs.
func Validate(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("descriptor cannot be nil")
	}
	if d.VnfdID == "" {
		return fmt.Errorf("vnfdId is required")
	}
	if len(d.Vdus) == 0 {
		return fmt.Errorf("descriptor %s declares no VDUs", d.VnfdID)
	}
	if len(d.Flavours) == 0 {
		return fmt.Errorf("descriptor %s declares no flavours", d.VnfdID)
	}

	for flavourID, flavour := range d.Flavours {
		if len(flavour.InstantiationLevels) == 0 {
			return fmt.Errorf("flavour %s has no instantiation levels", flavourID)
		}
		if flavour.DefaultLevelID != "" {
			if _, ok := flavour.InstantiationLevels[flavour.DefaultLevelID]; !ok {
				return fmt.Errorf("flavour %s default level %s not declared", flavourID, flavour.DefaultLevelID)
			}
		}
		for levelID, level := range flavour.InstantiationLevels {
			for vduID := range level.VduLevels {
				if _, ok := d.Vdus[vduID]; !ok {
					return fmt.Errorf("level %s references unknown VDU %s", levelID, vduID)
				}
			}
		}
	}

	for aspectID, aspect := range d.ScalingAspects {
		if _, ok := d.Vdus[aspect.VduID]; !ok {
			return fmt.Errorf("aspect %s references unknown VDU %s", aspectID, aspect.VduID)
		}
		if aspect.MaxScaleLevel < 0 {
			return fmt.Errorf("aspect %s has negative maxScaleLevel", aspectID)
		}
	}

	return nil
}
