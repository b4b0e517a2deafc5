// Package planner computes resource-change sets for lifecycle operations.
//
// Planning is a pure computation over the operation parameters, the current
// instance inventory, and the VNF descriptor. It performs no VIM I/O. For
// identical inputs it produces an identical change set, so a persisted plan
// can be replayed on retry and re-planning after a crash converges on the
// same result.
package planner

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/piwi3910/vnfweave/internal/descriptor"
	"github.com/piwi3910/vnfweave/internal/models"
)

var (
	// ErrDataRetrieval indicates a mandatory descriptor or inventory
	// binding could not be resolved.
	ErrDataRetrieval = errors.New("planning data retrieval failed")

	// ErrInvalidScaleOperation indicates a scale request would drive an
	// aspect outside its [0, maxScaleLevel] bounds.
	ErrInvalidScaleOperation = errors.New("invalid scale operation")

	// ErrUnsupportedChange indicates a package change of a shape the
	// planner cannot express as image/flavour/network substitutions.
	ErrUnsupportedChange = errors.New("unsupported package change")
)

// vnfcNamespace seeds deterministic VNFC identity generation.
var vnfcNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// vnfcID derives a VNFC identity from the occurrence and a stable seed.
// Replanning the same occurrence yields the same identity; a different
// occurrence (a fresh heal, say) yields a fresh one.
func vnfcID(occurrenceID, seed string) string {
	return uuid.NewSHA1(vnfcNamespace, []byte(occurrenceID+"/"+seed)).String()
}

// cpID derives a connection point identity the same way.
func cpID(occurrenceID, vnfcID, cpdID string) string {
	return uuid.NewSHA1(vnfcNamespace, []byte(occurrenceID+"/"+vnfcID+"/"+cpdID)).String()
}

// Plan is the planner's output for one operation.
type Plan struct {
	// Changes is the VNFC-level delta, ordered deterministically.
	Changes []models.ResourceChange

	// TargetInfo is the post-operation inventory the driver must realize.
	// Nil means the operation removes the inventory (terminate).
	TargetInfo *models.InstantiatedVnfInfo

	// ExternalNetworks maps external virtual link ids to VIM network ids.
	ExternalNetworks map[string]string
}

// Planner computes plans. It holds no state; all inputs arrive per call.
type Planner struct{}

// New creates a Planner.
func New() *Planner {
	return &Planner{}
}

// PlanInstantiate resolves the flavour's instantiation level into a full
// initial inventory. Every VDU named by the level must exist in the
// descriptor and every external connection point must have a virtual link
// binding in the request.
func (p *Planner) PlanInstantiate(occurrenceID string, req *models.InstantiateVnfRequest, desc *descriptor.Descriptor) (*Plan, error) {
	flavour, ok := desc.Flavours[req.FlavourID]
	if !ok {
		return nil, fmt.Errorf("%w: flavour %q not in descriptor %s", ErrDataRetrieval, req.FlavourID, desc.VnfdID)
	}

	levelID := req.InstantiationLevelID
	if levelID == "" {
		levelID = flavour.DefaultLevelID
	}
	level, ok := flavour.InstantiationLevels[levelID]
	if !ok {
		return nil, fmt.Errorf("%w: instantiation level %q not in flavour %q", ErrDataRetrieval, levelID, req.FlavourID)
	}

	extNets := make(map[string]string, len(req.ExtVirtualLinks))
	for _, evl := range req.ExtVirtualLinks {
		extNets[evl.ID] = evl.ResourceID
	}

	info := &models.InstantiatedVnfInfo{
		FlavourID: req.FlavourID,
		VnfState:  models.VnfStateStarted,
	}

	for _, vduID := range sortedKeys(level.VduLevels) {
		vdu, ok := desc.Vdus[vduID]
		if !ok {
			return nil, fmt.Errorf("%w: VDU %q named by level %q not in descriptor", ErrDataRetrieval, vduID, levelID)
		}

		for _, cp := range vdu.ConnectionPoints {
			if cp.External {
				if _, bound := extNets[cp.VirtualLinkID]; !bound {
					return nil, fmt.Errorf("%w: external connection point %q of VDU %q has no binding for virtual link %q",
						ErrDataRetrieval, cp.ID, vduID, cp.VirtualLinkID)
				}
			}
		}

		for i := 0; i < level.VduLevels[vduID]; i++ {
			info.VnfcResourceInfo = append(info.VnfcResourceInfo, newVnfc(occurrenceID, vduID, &vdu, fmt.Sprintf("%s/%d", vduID, i)))
		}
	}

	for _, aspectID := range sortedKeys(desc.ScalingAspects) {
		info.ScaleStatus = append(info.ScaleStatus, models.ScaleInfo{AspectID: aspectID, ScaleLevel: 0})
	}

	changes := make([]models.ResourceChange, 0, len(info.VnfcResourceInfo))
	for _, vnfc := range info.VnfcResourceInfo {
		changes = append(changes, models.ResourceChange{
			VduID:          vnfc.VduID,
			ChangeType:     models.ChangeTypeAdded,
			AffectedVnfcID: vnfc.ID,
		})
	}

	return &Plan{
		Changes:          sortChanges(changes),
		TargetInfo:       info,
		ExternalNetworks: extNets,
	}, nil
}

// CheckScaleBounds validates a scale request against the aspect's bounds
// without producing a plan. Used at request intake so out-of-range requests
// are rejected before any occurrence exists.
func (p *Planner) CheckScaleBounds(req *models.ScaleVnfRequest, info *models.InstantiatedVnfInfo, desc *descriptor.Descriptor) error {
	_, _, err := p.resolveScale(req, info, desc)
	return err
}

// resolveScale resolves the aspect and the bounded target level.
func (p *Planner) resolveScale(req *models.ScaleVnfRequest, info *models.InstantiatedVnfInfo, desc *descriptor.Descriptor) (descriptor.ScalingAspect, int, error) {
	aspect, ok := desc.ScalingAspects[req.AspectID]
	if !ok {
		return descriptor.ScalingAspect{}, 0, fmt.Errorf("%w: scaling aspect %q not in descriptor %s", ErrDataRetrieval, req.AspectID, desc.VnfdID)
	}

	steps := req.NumberOfSteps
	if steps <= 0 {
		steps = 1
	}

	current := info.ScaleLevel(req.AspectID)

	var target int
	switch req.Type {
	case models.ScaleOut:
		target = current + steps
	case models.ScaleIn:
		target = current - steps
	default:
		return descriptor.ScalingAspect{}, 0, fmt.Errorf("%w: unknown scale type %q", ErrInvalidScaleOperation, req.Type)
	}

	if target < 0 || target > aspect.MaxScaleLevel {
		return descriptor.ScalingAspect{}, 0, fmt.Errorf("%w: aspect %q level %d out of bounds [0, %d]",
			ErrInvalidScaleOperation, req.AspectID, target, aspect.MaxScaleLevel)
	}

	return aspect, target, nil
}

// PlanScale computes the VNFC additions or removals for a scale request.
// Scale out appends instances of the aspect's VDU; scale in removes the most
// recently added ones.
func (p *Planner) PlanScale(occurrenceID string, req *models.ScaleVnfRequest, info *models.InstantiatedVnfInfo, desc *descriptor.Descriptor) (*Plan, error) {
	aspect, target, err := p.resolveScale(req, info, desc)
	if err != nil {
		return nil, err
	}

	current := info.ScaleLevel(req.AspectID)
	deltaInstances := (target - current) * aspect.InstancesPerStep()

	vdu, ok := desc.Vdus[aspect.VduID]
	if !ok {
		return nil, fmt.Errorf("%w: VDU %q of aspect %q not in descriptor", ErrDataRetrieval, aspect.VduID, req.AspectID)
	}

	targetInfo := info.Clone()
	targetInfo.SetScaleLevel(req.AspectID, target)

	var changes []models.ResourceChange

	if deltaInstances > 0 {
		existing := countVdu(info, aspect.VduID)
		for i := 0; i < deltaInstances; i++ {
			vnfc := newVnfc(occurrenceID, aspect.VduID, &vdu, fmt.Sprintf("%s/%d", aspect.VduID, existing+i))
			targetInfo.VnfcResourceInfo = append(targetInfo.VnfcResourceInfo, vnfc)
			changes = append(changes, models.ResourceChange{
				VduID:          aspect.VduID,
				ChangeType:     models.ChangeTypeAdded,
				AffectedVnfcID: vnfc.ID,
			})
		}
	} else {
		removed := pickNewestVdu(targetInfo, aspect.VduID, -deltaInstances)
		if len(removed) < -deltaInstances {
			return nil, fmt.Errorf("%w: aspect %q has only %d instances of VDU %q to remove",
				ErrInvalidScaleOperation, req.AspectID, len(removed), aspect.VduID)
		}
		for _, vnfc := range removed {
			changes = append(changes, models.ResourceChange{
				VduID:             aspect.VduID,
				ChangeType:        models.ChangeTypeRemoved,
				AffectedVnfcID:    vnfc.ID,
				ComputeResourceID: vnfc.ComputeResourceID,
			})
		}
		dropVnfcs(targetInfo, removed)
	}

	return &Plan{
		Changes:    sortChanges(changes),
		TargetInfo: targetInfo,
	}, nil
}

// PlanHeal replaces the targeted VNFCs with fresh identities in the same VDU
// slots. An empty target list selects every VNFC.
func (p *Planner) PlanHeal(occurrenceID string, req *models.HealVnfRequest, info *models.InstantiatedVnfInfo) (*Plan, error) {
	var targets []models.VnfcResourceInfo
	if len(req.VnfcInstanceID) == 0 {
		targets = append(targets, info.VnfcResourceInfo...)
	} else {
		for _, id := range req.VnfcInstanceID {
			vnfc := info.FindVnfc(id)
			if vnfc == nil {
				return nil, fmt.Errorf("%w: VNFC %q not found on the instance", ErrDataRetrieval, id)
			}
			targets = append(targets, *vnfc)
		}
	}

	targetInfo := info.Clone()
	changes := make([]models.ResourceChange, 0, 2*len(targets))

	for _, old := range targets {
		fresh := old
		fresh.ID = vnfcID(occurrenceID, "heal/"+old.ID)
		fresh.ComputeResourceID = ""
		// The copy above shares the connection point backing array with
		// the caller's inventory; detach it before rewriting IDs.
		fresh.ConnectionPoints = append([]models.ConnectionPointInfo(nil), old.ConnectionPoints...)
		for i := range fresh.ConnectionPoints {
			fresh.ConnectionPoints[i].ID = cpID(occurrenceID, fresh.ID, fresh.ConnectionPoints[i].CpdID)
		}

		replaceVnfc(targetInfo, old.ID, fresh)

		changes = append(changes,
			models.ResourceChange{
				VduID:             old.VduID,
				ChangeType:        models.ChangeTypeRemoved,
				AffectedVnfcID:    old.ID,
				ComputeResourceID: old.ComputeResourceID,
			},
			models.ResourceChange{
				VduID:          old.VduID,
				ChangeType:     models.ChangeTypeAdded,
				AffectedVnfcID: fresh.ID,
			},
		)
	}

	return &Plan{
		Changes:    sortChanges(changes),
		TargetInfo: targetInfo,
	}, nil
}

// PlanTerminate removes every VNFC. The target inventory is nil, which the
// state machine turns into NOT_INSTANTIATED on completion.
func (p *Planner) PlanTerminate(info *models.InstantiatedVnfInfo) (*Plan, error) {
	changes := make([]models.ResourceChange, 0, len(info.VnfcResourceInfo))
	for _, vnfc := range info.VnfcResourceInfo {
		changes = append(changes, models.ResourceChange{
			VduID:             vnfc.VduID,
			ChangeType:        models.ChangeTypeRemoved,
			AffectedVnfcID:    vnfc.ID,
			ComputeResourceID: vnfc.ComputeResourceID,
		})
	}

	return &Plan{Changes: sortChanges(changes)}, nil
}

// PlanChangeVnfPkg computes per-VDU image and flavour substitutions against
// the new descriptor. Only image, flavour, and network changes are
// expressible; a VDU disappearing from or appearing in the new descriptor's
// topology is rejected.
func (p *Planner) PlanChangeVnfPkg(occurrenceID string, req *models.ChangeCurrentVnfPkgRequest, info *models.InstantiatedVnfInfo, newDesc *descriptor.Descriptor) (*Plan, error) {
	inUse := make(map[string]bool)
	for _, vnfc := range info.VnfcResourceInfo {
		inUse[vnfc.VduID] = true
	}

	for vduID := range inUse {
		if _, ok := newDesc.Vdus[vduID]; !ok {
			return nil, fmt.Errorf("%w: descriptor %s removes VDU %q which has deployed instances",
				ErrUnsupportedChange, newDesc.VnfdID, vduID)
		}
	}

	flavour, ok := newDesc.Flavours[info.FlavourID]
	if !ok {
		return nil, fmt.Errorf("%w: descriptor %s has no flavour %q", ErrUnsupportedChange, newDesc.VnfdID, info.FlavourID)
	}
	level, ok := flavour.InstantiationLevels[flavour.DefaultLevelID]
	if !ok {
		return nil, fmt.Errorf("%w: flavour %q has no default level", ErrUnsupportedChange, info.FlavourID)
	}
	for vduID := range level.VduLevels {
		if !inUse[vduID] {
			return nil, fmt.Errorf("%w: descriptor %s adds VDU %q which the instance does not run",
				ErrUnsupportedChange, newDesc.VnfdID, vduID)
		}
	}

	extNets := make(map[string]string, len(req.ExtVirtualLinks))
	for _, evl := range req.ExtVirtualLinks {
		extNets[evl.ID] = evl.ResourceID
	}

	targetInfo := info.Clone()
	var changes []models.ResourceChange

	for i := range targetInfo.VnfcResourceInfo {
		vnfc := &targetInfo.VnfcResourceInfo[i]
		vdu := newDesc.Vdus[vnfc.VduID]
		if vnfc.ImageID == vdu.ImageID && vnfc.FlavourID == vdu.FlavourID {
			continue
		}
		vnfc.ImageID = vdu.ImageID
		vnfc.FlavourID = vdu.FlavourID
		changes = append(changes, models.ResourceChange{
			VduID:             vnfc.VduID,
			ChangeType:        models.ChangeTypeModified,
			AffectedVnfcID:    vnfc.ID,
			ComputeResourceID: vnfc.ComputeResourceID,
		})
	}

	return &Plan{
		Changes:          sortChanges(changes),
		TargetInfo:       targetInfo,
		ExternalNetworks: extNets,
	}, nil
}

// PlanChangeExtConn rebinds external connection points to new virtual link
// resources. Every VNFC holding a connection point on a changed link is
// marked MODIFIED.
func (p *Planner) PlanChangeExtConn(req *models.ChangeExtVnfConnectivityRequest, info *models.InstantiatedVnfInfo) (*Plan, error) {
	if len(req.ExtVirtualLinks) == 0 {
		return nil, fmt.Errorf("%w: no external virtual links in request", ErrDataRetrieval)
	}

	extNets := make(map[string]string, len(req.ExtVirtualLinks))
	for _, evl := range req.ExtVirtualLinks {
		extNets[evl.ID] = evl.ResourceID
	}

	targetInfo := info.Clone()
	var changes []models.ResourceChange

	for _, vnfc := range targetInfo.VnfcResourceInfo {
		for _, cp := range vnfc.ConnectionPoints {
			if cp.ExtVirtualLinkID == "" {
				continue
			}
			if _, changed := extNets[cp.ExtVirtualLinkID]; changed {
				changes = append(changes, models.ResourceChange{
					VduID:             vnfc.VduID,
					ChangeType:        models.ChangeTypeModified,
					AffectedVnfcID:    vnfc.ID,
					ComputeResourceID: vnfc.ComputeResourceID,
				})
				break
			}
		}
	}

	return &Plan{
		Changes:          sortChanges(changes),
		TargetInfo:       targetInfo,
		ExternalNetworks: extNets,
	}, nil
}

// newVnfc stamps a VNFC from a VDU definition with deterministic identities.
func newVnfc(occurrenceID, vduID string, vdu *descriptor.Vdu, seed string) models.VnfcResourceInfo {
	id := vnfcID(occurrenceID, seed)
	vnfc := models.VnfcResourceInfo{
		ID:        id,
		VduID:     vduID,
		ImageID:   vdu.ImageID,
		FlavourID: vdu.FlavourID,
	}
	for _, cp := range vdu.ConnectionPoints {
		cpInfo := models.ConnectionPointInfo{
			ID:    cpID(occurrenceID, id, cp.ID),
			CpdID: cp.ID,
		}
		if cp.External {
			cpInfo.ExtVirtualLinkID = cp.VirtualLinkID
		} else {
			cpInfo.VirtualLinkID = cp.VirtualLinkID
		}
		vnfc.ConnectionPoints = append(vnfc.ConnectionPoints, cpInfo)
	}
	return vnfc
}

// countVdu counts deployed VNFCs of one VDU.
func countVdu(info *models.InstantiatedVnfInfo, vduID string) int {
	n := 0
	for _, vnfc := range info.VnfcResourceInfo {
		if vnfc.VduID == vduID {
			n++
		}
	}
	return n
}

// pickNewestVdu returns up to n VNFCs of the VDU, last-appended first.
func pickNewestVdu(info *models.InstantiatedVnfInfo, vduID string, n int) []models.VnfcResourceInfo {
	var picked []models.VnfcResourceInfo
	for i := len(info.VnfcResourceInfo) - 1; i >= 0 && len(picked) < n; i-- {
		if info.VnfcResourceInfo[i].VduID == vduID {
			picked = append(picked, info.VnfcResourceInfo[i])
		}
	}
	return picked
}

// dropVnfcs removes the given VNFCs from the inventory.
func dropVnfcs(info *models.InstantiatedVnfInfo, drop []models.VnfcResourceInfo) {
	dropped := make(map[string]bool, len(drop))
	for _, vnfc := range drop {
		dropped[vnfc.ID] = true
	}
	kept := info.VnfcResourceInfo[:0]
	for _, vnfc := range info.VnfcResourceInfo {
		if !dropped[vnfc.ID] {
			kept = append(kept, vnfc)
		}
	}
	info.VnfcResourceInfo = kept
}

// replaceVnfc swaps a VNFC in place, preserving inventory order.
func replaceVnfc(info *models.InstantiatedVnfInfo, oldID string, fresh models.VnfcResourceInfo) {
	for i := range info.VnfcResourceInfo {
		if info.VnfcResourceInfo[i].ID == oldID {
			info.VnfcResourceInfo[i] = fresh
			return
		}
	}
}

// sortChanges orders a change set by (vduId, changeType, affectedVnfcId) so
// identical plans compare equal.
func sortChanges(changes []models.ResourceChange) []models.ResourceChange {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].VduID != changes[j].VduID {
			return changes[i].VduID < changes[j].VduID
		}
		if changes[i].ChangeType != changes[j].ChangeType {
			return changes[i].ChangeType < changes[j].ChangeType
		}
		return changes[i].AffectedVnfcID < changes[j].AffectedVnfcID
	})
	return changes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
