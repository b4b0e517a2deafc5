package helm

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfweave/internal/driver"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chartRef is required")

	d, err := New(&Config{ChartRef: "./charts/vnf-generic"})
	require.NoError(t, err)
	assert.Equal(t, "default", d.config.Namespace)
	assert.Equal(t, DefaultTimeout, d.config.Timeout)
	assert.Equal(t, DefaultMaxHistory, d.config.MaxHistory)
	assert.Equal(t, "helm", d.Name())
	assert.Equal(t, "kubernetes.helm", d.VimKind())
}

func TestConcurrentLazyInitialize(t *testing.T) {
	d, err := New(&Config{
		ChartRef:   "./charts/vnf-generic",
		Kubeconfig: filepath.Join(t.TempDir(), "no-such-kubeconfig"),
	})
	require.NoError(t, err)

	// Initialization happens on first use; overlapping callers must not
	// race on the connection state.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Health(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
	}

	// A failed attempt leaves the driver retryable.
	d.initMu.Lock()
	assert.False(t, d.initialized)
	d.initMu.Unlock()
}

func TestReleaseName(t *testing.T) {
	assert.Equal(t, "vnf-abc-def", releaseName("ABC-def"))
}

func TestBuildValues(t *testing.T) {
	desired := &driver.ResourceSet{
		Units: []driver.DesiredUnit{
			{VnfcID: "vnfc-1", VduID: "VDU1", ImageID: "img-1", FlavourID: "small", Networks: []string{"mgmt"}},
			{VnfcID: "vnfc-2", VduID: "VDU1", ImageID: "img-1", FlavourID: "small", Networks: []string{"mgmt"}},
			{VnfcID: "vnfc-3", VduID: "VDU2", ImageID: "img-2", FlavourID: "large"},
		},
		ExternalNetworks: map[string]string{"VL1": "net-external"},
	}

	values := buildValues("inst-1", desired, map[string]interface{}{
		"helm_chart": "./charts/custom",
		"custom":     "param",
	})

	assert.Equal(t, "inst-1", values["vnfInstanceId"])
	assert.Equal(t, "param", values["custom"])
	assert.NotContains(t, values, "helm_chart")

	vdus, ok := values["vdus"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, vdus, 2)

	vdu1 := vdus["VDU1"].(map[string]interface{})
	assert.Equal(t, "img-1", vdu1["image"])
	assert.Equal(t, 2, vdu1["replicas"])
	assert.Len(t, vdu1["vnfcIds"], 2)

	vdu2 := vdus["VDU2"].(map[string]interface{})
	assert.Equal(t, 1, vdu2["replicas"])

	external := values["externalNetworks"].(map[string]interface{})
	assert.Equal(t, "net-external", external["VL1"])
}

func TestBuildValuesEmptyExtras(t *testing.T) {
	desired := &driver.ResourceSet{
		Units: []driver.DesiredUnit{
			{VnfcID: "vnfc-1", VduID: "VDU1", ImageID: "img", FlavourID: "small"},
		},
	}

	values := buildValues("inst-2", desired, nil)
	assert.NotContains(t, values, "externalNetworks")
}
