// Package models defines the data model for VNF lifecycle management:
// VNF instances, LCM operation occurrences, resource changes, and the
// problem-details error payload. The field shapes follow ETSI NFV-SOL 003
// so the REST layer can serialize them directly.
package models

import (
	"encoding/json"
	"time"
)

// InstantiationState represents the instantiation state of a VNF instance.
type InstantiationState string

const (
	// InstantiationStateNotInstantiated indicates no resources are deployed.
	InstantiationStateNotInstantiated InstantiationState = "NOT_INSTANTIATED"

	// InstantiationStateInstantiated indicates resources are deployed on a VIM.
	InstantiationStateInstantiated InstantiationState = "INSTANTIATED"
)

// VnfState represents the operational state of an instantiated VNF.
type VnfState string

const (
	// VnfStateStarted indicates the VNF is running.
	VnfStateStarted VnfState = "STARTED"

	// VnfStateStopped indicates the VNF is deployed but not running.
	VnfStateStopped VnfState = "STOPPED"
)

// LcmOperation identifies a lifecycle management operation type.
type LcmOperation string

const (
	OperationInstantiate   LcmOperation = "INSTANTIATE"
	OperationScale         LcmOperation = "SCALE"
	OperationHeal          LcmOperation = "HEAL"
	OperationTerminate     LcmOperation = "TERMINATE"
	OperationModifyInfo    LcmOperation = "MODIFY_INFO"
	OperationChangeExtConn LcmOperation = "CHANGE_EXT_CONN"
	OperationChangeVnfPkg  LcmOperation = "CHANGE_VNFPKG"
)

// OperationState represents the state of an LCM operation occurrence.
type OperationState string

const (
	// OperationStateStarting indicates the occurrence has been created but
	// processing has not begun.
	OperationStateStarting OperationState = "STARTING"

	// OperationStateProcessing indicates the occurrence is being executed.
	OperationStateProcessing OperationState = "PROCESSING"

	// OperationStateCompleted indicates the operation finished successfully.
	OperationStateCompleted OperationState = "COMPLETED"

	// OperationStateFailedTemp indicates a failure that requires operator
	// action (retry, rollback, or fail) to resolve. The instance task lock
	// is held while an occurrence is in this state.
	OperationStateFailedTemp OperationState = "FAILED_TEMP"

	// OperationStateFailed indicates the operator abandoned recovery.
	OperationStateFailed OperationState = "FAILED"

	// OperationStateRollingBack indicates a rollback is in progress.
	OperationStateRollingBack OperationState = "ROLLING_BACK"

	// OperationStateRolledBack indicates the pre-operation state was restored.
	OperationStateRolledBack OperationState = "ROLLED_BACK"
)

// IsTerminal reports whether the state accepts no further transitions.
func (s OperationState) IsTerminal() bool {
	switch s {
	case OperationStateCompleted, OperationStateFailed, OperationStateRolledBack:
		return true
	default:
		return false
	}
}

// ChangeType classifies the effect of an operation on one VNFC.
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "ADDED"
	ChangeTypeRemoved  ChangeType = "REMOVED"
	ChangeTypeModified ChangeType = "MODIFIED"
)

// ScaleDirection is the direction of a SCALE operation.
type ScaleDirection string

const (
	ScaleOut ScaleDirection = "SCALE_OUT"
	ScaleIn  ScaleDirection = "SCALE_IN"
)

// VnfInstance represents one managed VNF.
//
// The TaskState field doubles as the per-instance mutual exclusion flag:
// it is set atomically when an operation occurrence starts and cleared when
// the occurrence reaches a terminal state. At most one non-terminal
// occurrence may reference a given instance at any time.
type VnfInstance struct {
	// ID is the immutable UUID of the instance.
	ID string `json:"id"`

	// VnfdID identifies the descriptor this instance was created from.
	// Mutated only by MODIFY_INFO and CHANGE_VNFPKG operations.
	VnfdID string `json:"vnfdId"`

	// VnfInstanceName is the operator-assigned name.
	VnfInstanceName string `json:"vnfInstanceName,omitempty"`

	// VnfInstanceDescription is the operator-assigned description.
	VnfInstanceDescription string `json:"vnfInstanceDescription,omitempty"`

	// VnfProvider is the descriptor vendor.
	VnfProvider string `json:"vnfProvider,omitempty"`

	// VnfProductName is the descriptor product name.
	VnfProductName string `json:"vnfProductName,omitempty"`

	// VnfSoftwareVersion is the VNF software version.
	VnfSoftwareVersion string `json:"vnfSoftwareVersion,omitempty"`

	// VnfdVersion is the descriptor version.
	VnfdVersion string `json:"vnfdVersion,omitempty"`

	// InstantiationState is NOT_INSTANTIATED or INSTANTIATED.
	InstantiationState InstantiationState `json:"instantiationState"`

	// TaskState names the in-flight operation while the instance is locked.
	// Empty when no operation is in flight.
	TaskState string `json:"taskState,omitempty"`

	// VimConnection identifies which infra driver manages this instance
	// (e.g. "openstack", "kubernetes").
	VimConnection string `json:"vimConnectionId,omitempty"`

	// InstantiatedVnfInfo is present only when INSTANTIATED.
	InstantiatedVnfInfo *InstantiatedVnfInfo `json:"instantiatedVnfInfo,omitempty"`

	// Metadata carries opaque operator-supplied key/value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InstantiatedVnfInfo is the resource inventory of an instantiated VNF.
type InstantiatedVnfInfo struct {
	// FlavourID is the deployment flavour used at instantiation.
	FlavourID string `json:"flavourId"`

	// VnfState is the operational state of the VNF.
	VnfState VnfState `json:"vnfState"`

	// ScaleStatus holds the current scale level per aspect.
	ScaleStatus []ScaleInfo `json:"scaleStatus,omitempty"`

	// VnfcResourceInfo lists the deployed compute units.
	VnfcResourceInfo []VnfcResourceInfo `json:"vnfcResourceInfo,omitempty"`

	// VnfVirtualLinkResourceInfo lists the deployed virtual links.
	VnfVirtualLinkResourceInfo []VirtualLinkResourceInfo `json:"vnfVirtualLinkResourceInfo,omitempty"`

	// VirtualStorageResourceInfo lists the deployed storage volumes.
	VirtualStorageResourceInfo []VirtualStorageResourceInfo `json:"virtualStorageResourceInfo,omitempty"`
}

// ScaleInfo is the scale level of one scaling aspect.
type ScaleInfo struct {
	AspectID   string `json:"aspectId"`
	ScaleLevel int    `json:"scaleLevel"`
}

// VnfcResourceInfo describes one deployed VNFC (an instance of a VDU).
type VnfcResourceInfo struct {
	// ID is the VNFC identity. Heal replaces it: the healed VNFC gets a
	// fresh ID in the same VduID slot.
	ID string `json:"id"`

	// VduID is the VDU this VNFC was stamped from.
	VduID string `json:"vduId"`

	// ComputeResourceID is the VIM-side resource identifier.
	ComputeResourceID string `json:"computeResourceId,omitempty"`

	// ImageID is the software image the VNFC runs.
	ImageID string `json:"imageId,omitempty"`

	// FlavourID is the compute flavour of the VNFC.
	FlavourID string `json:"flavourId,omitempty"`

	// ConnectionPoints lists the VNFC's connection point bindings.
	ConnectionPoints []ConnectionPointInfo `json:"vnfcCpInfo,omitempty"`
}

// ConnectionPointInfo is one connection point binding on a VNFC.
type ConnectionPointInfo struct {
	ID               string `json:"id"`
	CpdID            string `json:"cpdId"`
	VirtualLinkID    string `json:"vnfVirtualLinkId,omitempty"`
	ExtVirtualLinkID string `json:"extVirtualLinkId,omitempty"`
}

// VirtualLinkResourceInfo describes one deployed virtual link.
type VirtualLinkResourceInfo struct {
	ID                string `json:"id"`
	VirtualLinkDescID string `json:"vnfVirtualLinkDescId"`
	NetworkResourceID string `json:"networkResourceId,omitempty"`
}

// VirtualStorageResourceInfo describes one deployed storage volume.
type VirtualStorageResourceInfo struct {
	ID                   string `json:"id"`
	VirtualStorageDescID string `json:"virtualStorageDescId"`
	StorageResourceID    string `json:"storageResourceId,omitempty"`
}

// ResourceChange is the planned or applied effect of an operation on one
// VNFC. Produced by the planner, consumed by the infra driver, and folded
// into the instance inventory when the operation completes.
type ResourceChange struct {
	// VduID is the VDU slot affected.
	VduID string `json:"vduId"`

	// ChangeType is ADDED, REMOVED, or MODIFIED.
	ChangeType ChangeType `json:"changeType"`

	// AffectedVnfcID is the VNFC identity affected by the change.
	AffectedVnfcID string `json:"affectedVnfcId"`

	// ComputeResourceID is the VIM resource id, populated after apply.
	ComputeResourceID string `json:"computeResourceId,omitempty"`
}

// ProblemDetails is the RFC 7807 error payload recorded on failed
// occurrences and returned by the API.
type ProblemDetails struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// LcmOpOcc is one recorded attempt at a lifecycle operation.
//
// The occurrence is created when the operation request is accepted and is
// never deleted; terminal occurrences form the audit trail. Operation and
// OperationParams are immutable after creation, everything else is mutated
// in place as the state machine advances.
type LcmOpOcc struct {
	// ID is the UUID of this occurrence.
	ID string `json:"id"`

	// VnfInstanceID is the instance this occurrence operates on.
	VnfInstanceID string `json:"vnfInstanceId"`

	// Operation is the requested LCM operation.
	Operation LcmOperation `json:"operation"`

	// OperationState is the current state machine state.
	OperationState OperationState `json:"operationState"`

	// OperationParams is the request payload, stored verbatim so retry and
	// rollback can replay without the original request.
	OperationParams json.RawMessage `json:"operationParams,omitempty"`

	// IsAutomaticInvocation is true when the occurrence was triggered by
	// the system rather than an API request.
	IsAutomaticInvocation bool `json:"isAutomaticInvocation"`

	// IsCancelPending records an advisory cancellation request. The
	// in-flight driver call is allowed to finish.
	IsCancelPending bool `json:"isCancelPending"`

	// Error is present only in FAILED_TEMP, FAILED, and ROLLED_BACK.
	Error *ProblemDetails `json:"error,omitempty"`

	// ResourceChanges is the planner output, persisted before the driver
	// apply so retry never re-plans.
	ResourceChanges []ResourceChange `json:"resourceChanges,omitempty"`

	// GrantToken is the opaque correlation token returned by the driver,
	// persisted for idempotent retry.
	GrantToken string `json:"grantToken,omitempty"`

	// TargetInfo is the planned post-operation inventory, persisted with
	// ResourceChanges so retry replays the same target without re-planning.
	// Nil when the operation removes the inventory entirely.
	TargetInfo *InstantiatedVnfInfo `json:"targetInfo,omitempty"`

	// ExternalNetworks maps external virtual link ids to VIM network ids
	// for the in-flight operation.
	ExternalNetworks map[string]string `json:"externalNetworks,omitempty"`

	// PriorInfo is the instance's InstantiatedVnfInfo snapshot taken before
	// the operation ran; rollback restores it.
	PriorInfo *InstantiatedVnfInfo `json:"priorInfo,omitempty"`

	// PriorInstance snapshots the descriptor-lineage fields mutated by
	// MODIFY_INFO and CHANGE_VNFPKG so rollback can revert them.
	PriorInstance *InstanceSnapshot `json:"priorInstance,omitempty"`

	StartTime        time.Time `json:"startTime"`
	StateEnteredTime time.Time `json:"stateEnteredTime"`
}

// InstanceSnapshot captures the mutable descriptor-lineage fields of a
// VnfInstance at operation start.
type InstanceSnapshot struct {
	VnfdID             string `json:"vnfdId"`
	VnfProvider        string `json:"vnfProvider,omitempty"`
	VnfProductName     string `json:"vnfProductName,omitempty"`
	VnfSoftwareVersion string `json:"vnfSoftwareVersion,omitempty"`
	VnfdVersion        string `json:"vnfdVersion,omitempty"`
}

// Snapshot returns the instance's current lineage fields.
func (v *VnfInstance) Snapshot() *InstanceSnapshot {
	return &InstanceSnapshot{
		VnfdID:             v.VnfdID,
		VnfProvider:        v.VnfProvider,
		VnfProductName:     v.VnfProductName,
		VnfSoftwareVersion: v.VnfSoftwareVersion,
		VnfdVersion:        v.VnfdVersion,
	}
}

// Restore writes the snapshot's lineage fields back onto the instance.
func (s *InstanceSnapshot) Restore(v *VnfInstance) {
	v.VnfdID = s.VnfdID
	v.VnfProvider = s.VnfProvider
	v.VnfProductName = s.VnfProductName
	v.VnfSoftwareVersion = s.VnfSoftwareVersion
	v.VnfdVersion = s.VnfdVersion
}

// Clone returns a deep copy of the inventory. The state machine snapshots
// the inventory before an operation and restores the copy on rollback.
func (i *InstantiatedVnfInfo) Clone() *InstantiatedVnfInfo {
	if i == nil {
		return nil
	}
	out := &InstantiatedVnfInfo{
		FlavourID: i.FlavourID,
		VnfState:  i.VnfState,
	}
	if i.ScaleStatus != nil {
		out.ScaleStatus = make([]ScaleInfo, len(i.ScaleStatus))
		copy(out.ScaleStatus, i.ScaleStatus)
	}
	if i.VnfcResourceInfo != nil {
		out.VnfcResourceInfo = make([]VnfcResourceInfo, len(i.VnfcResourceInfo))
		for n, v := range i.VnfcResourceInfo {
			c := v
			if v.ConnectionPoints != nil {
				c.ConnectionPoints = make([]ConnectionPointInfo, len(v.ConnectionPoints))
				copy(c.ConnectionPoints, v.ConnectionPoints)
			}
			out.VnfcResourceInfo[n] = c
		}
	}
	if i.VnfVirtualLinkResourceInfo != nil {
		out.VnfVirtualLinkResourceInfo = make([]VirtualLinkResourceInfo, len(i.VnfVirtualLinkResourceInfo))
		copy(out.VnfVirtualLinkResourceInfo, i.VnfVirtualLinkResourceInfo)
	}
	if i.VirtualStorageResourceInfo != nil {
		out.VirtualStorageResourceInfo = make([]VirtualStorageResourceInfo, len(i.VirtualStorageResourceInfo))
		copy(out.VirtualStorageResourceInfo, i.VirtualStorageResourceInfo)
	}
	return out
}

// FindVnfc returns the VNFC with the given identity, or nil.
func (i *InstantiatedVnfInfo) FindVnfc(id string) *VnfcResourceInfo {
	if i == nil {
		return nil
	}
	for n := range i.VnfcResourceInfo {
		if i.VnfcResourceInfo[n].ID == id {
			return &i.VnfcResourceInfo[n]
		}
	}
	return nil
}

// ScaleLevel returns the current level for an aspect, defaulting to zero.
func (i *InstantiatedVnfInfo) ScaleLevel(aspectID string) int {
	if i == nil {
		return 0
	}
	for _, s := range i.ScaleStatus {
		if s.AspectID == aspectID {
			return s.ScaleLevel
		}
	}
	return 0
}

// SetScaleLevel updates or inserts the level for an aspect.
func (i *InstantiatedVnfInfo) SetScaleLevel(aspectID string, level int) {
	for n := range i.ScaleStatus {
		if i.ScaleStatus[n].AspectID == aspectID {
			i.ScaleStatus[n].ScaleLevel = level
			return
		}
	}
	i.ScaleStatus = append(i.ScaleStatus, ScaleInfo{AspectID: aspectID, ScaleLevel: level})
}
