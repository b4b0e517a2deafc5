package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() *Descriptor {
	return &Descriptor{
		VnfdID:          "D1",
		Provider:        "acme",
		ProductName:     "vrouter",
		SoftwareVersion: "1.0",
		Vdus: map[string]Vdu{
			"VDU1": {ImageID: "img-1", FlavourID: "m1.small"},
			"VDU2": {ImageID: "img-2", FlavourID: "m1.medium"},
		},
		Flavours: map[string]Flavour{
			"simple": {
				DefaultLevelID: "default",
				InstantiationLevels: map[string]InstantiationLevel{
					"default": {VduLevels: map[string]int{"VDU1": 1, "VDU2": 1}},
				},
			},
		},
		ScalingAspects: map[string]ScalingAspect{
			"VDU1_scale": {VduID: "VDU1", MaxScaleLevel: 3},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr string
	}{
		{
			name:   "valid descriptor",
			mutate: func(*Descriptor) {},
		},
		{
			name:    "missing vnfdId",
			mutate:  func(d *Descriptor) { d.VnfdID = "" },
			wantErr: "vnfdId is required",
		},
		{
			name:    "no VDUs",
			mutate:  func(d *Descriptor) { d.Vdus = nil },
			wantErr: "declares no VDUs",
		},
		{
			name:    "no flavours",
			mutate:  func(d *Descriptor) { d.Flavours = nil },
			wantErr: "declares no flavours",
		},
		{
			name: "level references unknown VDU",
			mutate: func(d *Descriptor) {
				f := d.Flavours["simple"]
				f.InstantiationLevels["default"] = InstantiationLevel{
					VduLevels: map[string]int{"VDU9": 1},
				}
				d.Flavours["simple"] = f
			},
			wantErr: "unknown VDU VDU9",
		},
		{
			name: "aspect references unknown VDU",
			mutate: func(d *Descriptor) {
				d.ScalingAspects["bad"] = ScalingAspect{VduID: "VDU9", MaxScaleLevel: 1}
			},
			wantErr: "unknown VDU VDU9",
		},
		{
			name: "default level not declared",
			mutate: func(d *Descriptor) {
				f := d.Flavours["simple"]
				f.DefaultLevelID = "missing"
				d.Flavours["simple"] = f
			},
			wantErr: "default level missing not declared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(d)

			err := Validate(d)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStaticProvider_Get(t *testing.T) {
	p := NewStaticProvider()
	require.NoError(t, p.Register(validDescriptor()))

	d, err := p.Get(context.Background(), "D1")
	require.NoError(t, err)
	assert.Equal(t, "vrouter", d.ProductName)

	_, err = p.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDescriptorNotFound)
}

func TestStaticProvider_LoadDir(t *testing.T) {
	dir := t.TempDir()

	doc := `
vnfdId: D2
vdus:
  VDU1:
    imageId: img-1
    flavourId: m1.small
flavours:
  simple:
    defaultLevelId: default
    instantiationLevels:
      default:
        vduLevels:
          VDU1: 2
scalingAspects:
  VDU1_scale:
    vduId: VDU1
    maxScaleLevel: 2
    stepDelta: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d2.yaml"), []byte(doc), 0o600))
	// Non-YAML files are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600))

	p := NewStaticProvider()
	require.NoError(t, p.LoadDir(dir))

	d, err := p.Get(context.Background(), "D2")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Flavours["simple"].InstantiationLevels["default"].VduLevels["VDU1"])
	assert.Equal(t, 2, d.ScalingAspects["VDU1_scale"].InstancesPerStep())
}

func TestScalingAspect_InstancesPerStep(t *testing.T) {
	assert.Equal(t, 1, ScalingAspect{VduID: "VDU1"}.InstancesPerStep())
	assert.Equal(t, 3, ScalingAspect{VduID: "VDU1", StepDelta: 3}.InstancesPerStep())
}
