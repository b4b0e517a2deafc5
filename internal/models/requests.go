package models

// CreateVnfRequest creates a new VNF instance record (NOT_INSTANTIATED).
type CreateVnfRequest struct {
	// VnfdID is the descriptor to create the instance from.
	VnfdID string `json:"vnfdId" binding:"required"`

	// VnfInstanceName is an optional operator-assigned name.
	VnfInstanceName string `json:"vnfInstanceName,omitempty"`

	// VnfInstanceDescription is an optional description.
	VnfInstanceDescription string `json:"vnfInstanceDescription,omitempty"`

	// Metadata carries opaque operator-supplied key/value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExtVirtualLink connects a VNF connection point to an external network.
type ExtVirtualLink struct {
	// ID is the external virtual link identifier.
	ID string `json:"id" binding:"required"`

	// ResourceID is the VIM network resource backing the link.
	ResourceID string `json:"resourceId"`

	// CpdID is the connection point descriptor bound to this link.
	CpdID string `json:"cpdId"`
}

// InstantiateVnfRequest starts an INSTANTIATE operation.
type InstantiateVnfRequest struct {
	// FlavourID selects the deployment flavour from the descriptor.
	FlavourID string `json:"flavourId" binding:"required"`

	// InstantiationLevelID selects the initial instantiation level.
	// Empty selects the flavour's default level.
	InstantiationLevelID string `json:"instantiationLevelId,omitempty"`

	// ExtVirtualLinks binds external connection points.
	ExtVirtualLinks []ExtVirtualLink `json:"extVirtualLinks,omitempty"`

	// VimConnectionID selects the infra driver. Empty selects the
	// configured default.
	VimConnectionID string `json:"vimConnectionId,omitempty"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ScaleVnfRequest starts a SCALE operation.
type ScaleVnfRequest struct {
	// Type is SCALE_OUT or SCALE_IN.
	Type ScaleDirection `json:"type" binding:"required"`

	// AspectID is the scaling aspect to change.
	AspectID string `json:"aspectId" binding:"required"`

	// NumberOfSteps is the number of levels to move. Defaults to 1.
	NumberOfSteps int `json:"numberOfSteps,omitempty"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// HealVnfRequest starts a HEAL operation. An empty VnfcInstanceID list
// selects every VNFC (entire-VNF heal); a non-empty list selects exactly
// those VNFCs.
type HealVnfRequest struct {
	// VnfcInstanceID lists the VNFCs to heal.
	VnfcInstanceID []string `json:"vnfcInstanceId,omitempty"`

	// Cause is a free-form reason recorded on the occurrence.
	Cause string `json:"cause,omitempty"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// TerminateVnfRequest starts a TERMINATE operation.
type TerminateVnfRequest struct {
	// TerminationType is FORCEFUL or GRACEFUL.
	TerminationType string `json:"terminationType" binding:"required"`

	// GracefulTerminationTimeoutSeconds bounds a GRACEFUL terminate.
	GracefulTerminationTimeoutSeconds int `json:"gracefulTerminationTimeout,omitempty"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeExtVnfConnectivityRequest starts a CHANGE_EXT_CONN operation.
type ChangeExtVnfConnectivityRequest struct {
	// ExtVirtualLinks is the new external connectivity set.
	ExtVirtualLinks []ExtVirtualLink `json:"extVirtualLinks" binding:"required"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeCurrentVnfPkgRequest starts a CHANGE_VNFPKG operation.
type ChangeCurrentVnfPkgRequest struct {
	// VnfdID is the descriptor to move the instance to.
	VnfdID string `json:"vnfdId" binding:"required"`

	// ExtVirtualLinks optionally rebinds external connection points.
	ExtVirtualLinks []ExtVirtualLink `json:"extVirtualLinks,omitempty"`

	// AdditionalParams is passed through to the infra driver.
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// VnfInfoModificationRequest starts a MODIFY_INFO operation. Only the
// non-nil fields are applied.
type VnfInfoModificationRequest struct {
	VnfInstanceName        *string           `json:"vnfInstanceName,omitempty"`
	VnfInstanceDescription *string           `json:"vnfInstanceDescription,omitempty"`
	VnfdID                 *string           `json:"vnfdId,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}
