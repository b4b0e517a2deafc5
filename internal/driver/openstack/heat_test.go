package openstack

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gophercloud/gophercloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfweave/internal/driver"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "config cannot be nil",
		},
		{
			name: "missing password",
			cfg: &Config{
				AuthURL:     "https://keystone:5000/v3",
				Username:    "vnfm",
				ProjectName: "vnf",
				Region:      "RegionOne",
			},
			wantErr: "password is required",
		},
		{
			name: "valid",
			cfg: &Config{
				AuthURL:     "https://keystone:5000/v3",
				Username:    "vnfm",
				Password:    "secret",
				ProjectName: "vnf",
				Region:      "RegionOne",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	desired := &driver.ResourceSet{
		Units: []driver.DesiredUnit{
			{
				VnfcID:    "vnfc-1",
				VduID:     "VDU1",
				ImageID:   "img-1",
				FlavourID: "m1.small",
				Networks:  []string{"net-mgmt", "net-data"},
			},
			{
				VnfcID:    "vnfc-2",
				VduID:     "VDU2",
				ImageID:   "img-2",
				FlavourID: "m1.large",
			},
		},
	}

	raw, err := renderTemplate(desired, map[string]interface{}{"az": "nova"})
	require.NoError(t, err)

	var template map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &template))

	assert.Equal(t, "2018-08-31", template["heat_template_version"])

	resources, ok := template["resources"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, resources, 2)

	server, ok := resources["vnfc-1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "OS::Nova::Server", server["type"])

	props := server["properties"].(map[string]interface{})
	assert.Equal(t, "img-1", props["image"])
	assert.Equal(t, "m1.small", props["flavor"])
	assert.Len(t, props["networks"], 2)

	metadata := props["metadata"].(map[string]interface{})
	assert.Equal(t, "VDU1", metadata["vdu_id"])

	defaults, ok := template["parameter_defaults"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "nova", defaults["az"])
}

func TestRenderTemplateRejectsMissingVnfcID(t *testing.T) {
	desired := &driver.ResourceSet{
		Units: []driver.DesiredUnit{{VduID: "VDU1", ImageID: "img"}},
	}

	_, err := renderTemplate(desired, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no VNFC id")
}

func TestUnitsFromOutputs(t *testing.T) {
	outputs := []map[string]interface{}{
		{
			"output_key": "unrelated",
			"output_value": map[string]interface{}{
				"foo": "bar",
			},
		},
		{
			"output_key": "vnf_units",
			"output_value": []interface{}{
				map[string]interface{}{
					"vnfc_id":   "vnfc-1",
					"vdu_id":    "VDU1",
					"server_id": "srv-abc",
				},
			},
		},
	}

	units, err := unitsFromOutputs(outputs)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "vnfc-1", units[0].VnfcID)
	assert.Equal(t, "VDU1", units[0].VduID)
	assert.Equal(t, "srv-abc", units[0].ComputeResourceID)
}

func TestUnitsFromOutputsMissing(t *testing.T) {
	_, err := unitsFromOutputs(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vnf_units output")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantFatal bool
	}{
		{name: "bad request is fatal", status: 400, wantFatal: true},
		{name: "forbidden is fatal", status: 403, wantFatal: true},
		{name: "timeout is recoverable", status: 408, wantFatal: false},
		{name: "throttled is recoverable", status: 429, wantFatal: false},
		{name: "server error is recoverable", status: 503, wantFatal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(gophercloud.ErrUnexpectedResponseCode{Actual: tt.status})

			var infraErr *driver.InfraError
			require.True(t, errors.As(err, &infraErr))
			if tt.wantFatal {
				assert.Equal(t, driver.ClassFatal, infraErr.Class)
			} else {
				assert.Equal(t, driver.ClassRecoverable, infraErr.Class)
			}
		})
	}
}

func TestClassifyUnknownErrorIsRecoverable(t *testing.T) {
	err := classify(fmt.Errorf("connection reset"))

	var infraErr *driver.InfraError
	require.True(t, errors.As(err, &infraErr))
	assert.Equal(t, driver.ClassRecoverable, infraErr.Class)
}

func TestStackName(t *testing.T) {
	assert.Equal(t, "vnf-abc123", stackName("abc123"))
}
