package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    OperationState
		terminal bool
	}{
		{OperationStateStarting, false},
		{OperationStateProcessing, false},
		{OperationStateFailedTemp, false},
		{OperationStateRollingBack, false},
		{OperationStateCompleted, true},
		{OperationStateFailed, true},
		{OperationStateRolledBack, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestInstantiatedVnfInfo_Clone(t *testing.T) {
	orig := &InstantiatedVnfInfo{
		FlavourID: "simple",
		VnfState:  VnfStateStarted,
		ScaleStatus: []ScaleInfo{
			{AspectID: "VDU1_scale", ScaleLevel: 2},
		},
		VnfcResourceInfo: []VnfcResourceInfo{
			{
				ID:    "vnfc-1",
				VduID: "VDU1",
				ConnectionPoints: []ConnectionPointInfo{
					{ID: "cp-1", CpdID: "CP1"},
				},
			},
		},
	}

	clone := orig.Clone()
	require.Equal(t, orig, clone)

	// Mutating the clone must not touch the original.
	clone.VnfcResourceInfo[0].ID = "vnfc-2"
	clone.ScaleStatus[0].ScaleLevel = 5
	clone.VnfcResourceInfo[0].ConnectionPoints[0].ID = "cp-9"

	assert.Equal(t, "vnfc-1", orig.VnfcResourceInfo[0].ID)
	assert.Equal(t, 2, orig.ScaleStatus[0].ScaleLevel)
	assert.Equal(t, "cp-1", orig.VnfcResourceInfo[0].ConnectionPoints[0].ID)
}

func TestInstantiatedVnfInfo_CloneNil(t *testing.T) {
	var info *InstantiatedVnfInfo
	assert.Nil(t, info.Clone())
}

func TestInstantiatedVnfInfo_ScaleLevel(t *testing.T) {
	info := &InstantiatedVnfInfo{}

	assert.Equal(t, 0, info.ScaleLevel("missing"))

	info.SetScaleLevel("VDU1_scale", 3)
	assert.Equal(t, 3, info.ScaleLevel("VDU1_scale"))

	info.SetScaleLevel("VDU1_scale", 1)
	assert.Equal(t, 1, info.ScaleLevel("VDU1_scale"))
	assert.Len(t, info.ScaleStatus, 1)
}

func TestInstanceSnapshot_Restore(t *testing.T) {
	inst := &VnfInstance{
		ID:                 "inst-1",
		VnfdID:             "D1",
		VnfProvider:        "acme",
		VnfSoftwareVersion: "1.0",
	}

	snap := inst.Snapshot()

	inst.VnfdID = "D2"
	inst.VnfProvider = "other"
	inst.VnfSoftwareVersion = "2.0"

	snap.Restore(inst)

	assert.Equal(t, "D1", inst.VnfdID)
	assert.Equal(t, "acme", inst.VnfProvider)
	assert.Equal(t, "1.0", inst.VnfSoftwareVersion)
}

func TestInstantiatedVnfInfo_FindVnfc(t *testing.T) {
	info := &InstantiatedVnfInfo{
		VnfcResourceInfo: []VnfcResourceInfo{
			{ID: "a", VduID: "VDU1"},
			{ID: "b", VduID: "VDU2"},
		},
	}

	found := info.FindVnfc("b")
	require.NotNil(t, found)
	assert.Equal(t, "VDU2", found.VduID)

	assert.Nil(t, info.FindVnfc("missing"))
}
