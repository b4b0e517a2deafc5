// Package helm provides an infra driver that realizes a VNF instance as a
// single Helm release on a Kubernetes cluster. The desired resource set is
// passed to the chart through values; charts are expected to label the pods
// they create with the vnfc id and vdu id so Query can report them back.
package helm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	helmdriver "helm.sh/helm/v3/pkg/storage/driver"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/piwi3910/vnfweave/internal/driver"
)

const (
	// DefaultTimeout is the default timeout for Helm operations.
	DefaultTimeout = 10 * time.Minute

	// DefaultMaxHistory is the default number of revisions to keep.
	DefaultMaxHistory = 10

	// LabelVnfcID is the pod label charts must set to the VNFC identifier.
	LabelVnfcID = "vnfweave.io/vnfc-id"

	// LabelVduID is the pod label charts must set to the VDU identifier.
	LabelVduID = "vnfweave.io/vdu-id"

	// labelRelease is the conventional Helm release label.
	labelRelease = "app.kubernetes.io/instance"
)

// Driver implements driver.Driver on top of Helm 3 and the Kubernetes API.
type Driver struct {
	config   *Config
	settings *cli.EnvSettings
	logger   *zap.Logger

	// initMu guards the lazily established cluster connection. A failed
	// attempt leaves initialized false so the next call retries.
	initMu      sync.Mutex
	actionCfg   *action.Configuration
	clientset   kubernetes.Interface
	initialized bool
}

// Config contains configuration for the Helm driver.
type Config struct {
	// Kubeconfig is the path to the Kubernetes config file. Empty means
	// in-cluster configuration.
	Kubeconfig string

	// Namespace is the Kubernetes namespace releases are installed into.
	Namespace string

	// ChartRef is the default chart reference used when an instantiation
	// request does not name one. Example: "./charts/vnf-generic".
	ChartRef string

	// Timeout is the timeout for Helm operations.
	Timeout time.Duration

	// MaxHistory is the maximum number of revisions to keep per release.
	MaxHistory int

	// Debug enables verbose Helm output.
	Debug bool

	// Logger is the logger to use. If nil, a no-op logger is used.
	Logger *zap.Logger
}

// New creates a Helm driver. Kubernetes connectivity is established lazily on
// first use so the driver can be constructed before the cluster is reachable.
func New(config *Config) (*Driver, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.ChartRef == "" {
		return nil, fmt.Errorf("chartRef is required")
	}

	if config.Namespace == "" {
		config.Namespace = "default"
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxHistory == 0 {
		config.MaxHistory = DefaultMaxHistory
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := cli.New()
	if config.Kubeconfig != "" {
		settings.KubeConfig = config.Kubeconfig
	}
	settings.SetNamespace(config.Namespace)
	settings.Debug = config.Debug

	return &Driver{
		config:   config,
		settings: settings,
		logger:   logger,
	}, nil
}

// initialize lazily sets up the Helm action configuration and the Kubernetes
// clientset.
func (d *Driver) initialize(_ context.Context) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if d.initialized {
		return nil
	}

	actionCfg := new(action.Configuration)

	debugOut := io.Discard
	if d.config.Debug {
		debugOut = os.Stderr
	}
	debugLog := func(format string, v ...interface{}) {
		log.New(debugOut, "[helm] ", log.LstdFlags).Printf(format, v...)
	}

	if err := actionCfg.Init(
		d.settings.RESTClientGetter(),
		d.config.Namespace,
		"secret",
		debugLog,
	); err != nil {
		return driver.Recoverable(fmt.Errorf("failed to initialize Helm action configuration: %w", err))
	}

	restConfig, err := d.restConfig()
	if err != nil {
		return driver.Recoverable(fmt.Errorf("failed to load Kubernetes config: %w", err))
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return driver.Recoverable(fmt.Errorf("failed to create Kubernetes client: %w", err))
	}

	d.actionCfg = actionCfg
	d.clientset = clientset
	d.initialized = true

	d.logger.Info("Helm driver initialized",
		zap.String("namespace", d.config.Namespace),
		zap.String("chart", d.config.ChartRef))

	return nil
}

func (d *Driver) restConfig() (*rest.Config, error) {
	if d.config.Kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", d.config.Kubeconfig)
	}
	return rest.InClusterConfig()
}

// Name returns the driver name.
func (d *Driver) Name() string { return "helm" }

// VimKind returns the VIM technology identifier.
func (d *Driver) VimKind() string { return "kubernetes.helm" }

// releaseName derives the Helm release name for a VNF instance.
func releaseName(vnfInstanceID string) string {
	return "vnf-" + strings.ToLower(vnfInstanceID)
}

// Apply installs or upgrades the instance's release with values derived from
// the desired set. An empty desired set uninstalls the release.
func (d *Driver) Apply(ctx context.Context, vnfInstanceID string, desired *driver.ResourceSet, additionalParams map[string]interface{}) (*driver.AppliedResult, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	name := releaseName(vnfInstanceID)

	if desired == nil || len(desired.Units) == 0 {
		if err := d.uninstall(name); err != nil {
			return nil, err
		}
		return &driver.AppliedResult{CorrelationToken: name}, nil
	}

	values := buildValues(vnfInstanceID, desired, additionalParams)
	chartRef := d.config.ChartRef
	if ref, ok := additionalParams["helm_chart"].(string); ok && ref != "" {
		chartRef = ref
	}

	getClient := action.NewGet(d.actionCfg)
	_, err := getClient.Run(name)
	exists := err == nil
	if err != nil && !errors.Is(err, helmdriver.ErrReleaseNotFound) {
		return nil, driver.Recoverable(fmt.Errorf("failed to get release %s: %w", name, err))
	}

	if exists {
		if err := d.upgrade(ctx, name, chartRef, values); err != nil {
			return nil, err
		}
	} else {
		if err := d.install(ctx, name, chartRef, values); err != nil {
			return nil, err
		}
	}

	units, err := d.queryPods(ctx, name)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Helm release converged",
		zap.String("release", name),
		zap.Int("units", len(units)))

	return &driver.AppliedResult{
		Units:            units,
		CorrelationToken: name,
	}, nil
}

func (d *Driver) install(ctx context.Context, name, chartRef string, values map[string]interface{}) error {
	client := action.NewInstall(d.actionCfg)
	client.Namespace = d.config.Namespace
	client.ReleaseName = name
	client.Wait = true
	client.Timeout = d.config.Timeout
	client.CreateNamespace = true

	chartPath, err := client.LocateChart(chartRef, d.settings)
	if err != nil {
		return driver.Fatal(fmt.Errorf("failed to locate chart %s: %w", chartRef, err))
	}

	chartRequested, err := loader.Load(chartPath)
	if err != nil {
		return driver.Fatal(fmt.Errorf("failed to load chart: %w", err))
	}

	if _, err := client.RunWithContext(ctx, chartRequested, values); err != nil {
		return driver.Recoverable(fmt.Errorf("helm install failed: %w", err))
	}
	return nil
}

func (d *Driver) upgrade(ctx context.Context, name, chartRef string, values map[string]interface{}) error {
	client := action.NewUpgrade(d.actionCfg)
	client.Namespace = d.config.Namespace
	client.Wait = true
	client.Timeout = d.config.Timeout
	client.MaxHistory = d.config.MaxHistory

	chartPath, err := client.LocateChart(chartRef, d.settings)
	if err != nil {
		return driver.Fatal(fmt.Errorf("failed to locate chart %s: %w", chartRef, err))
	}

	chartRequested, err := loader.Load(chartPath)
	if err != nil {
		return driver.Fatal(fmt.Errorf("failed to load chart: %w", err))
	}

	if _, err := client.RunWithContext(ctx, name, chartRequested, values); err != nil {
		return driver.Recoverable(fmt.Errorf("helm upgrade failed: %w", err))
	}
	return nil
}

func (d *Driver) uninstall(name string) error {
	client := action.NewUninstall(d.actionCfg)
	client.Wait = true
	client.Timeout = d.config.Timeout

	if _, err := client.Run(name); err != nil {
		if errors.Is(err, helmdriver.ErrReleaseNotFound) {
			return nil
		}
		return driver.Recoverable(fmt.Errorf("helm uninstall failed: %w", err))
	}

	d.logger.Info("Helm release uninstalled", zap.String("release", name))
	return nil
}

// Rollback converges the release back to the prior resource set.
func (d *Driver) Rollback(ctx context.Context, vnfInstanceID string, prior *driver.ResourceSet) error {
	_, err := d.Apply(ctx, vnfInstanceID, prior, nil)
	return err
}

// Query lists the pods of the instance's release and reports them as compute
// units. Pods missing the vnfc label are skipped.
func (d *Driver) Query(ctx context.Context, vnfInstanceID string) ([]driver.AppliedUnit, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	name := releaseName(vnfInstanceID)

	getClient := action.NewGet(d.actionCfg)
	if _, err := getClient.Run(name); err != nil {
		if errors.Is(err, helmdriver.ErrReleaseNotFound) {
			return nil, driver.ErrVnfNotDeployed
		}
		return nil, driver.Recoverable(fmt.Errorf("failed to get release %s: %w", name, err))
	}

	return d.queryPods(ctx, name)
}

func (d *Driver) queryPods(ctx context.Context, release string) ([]driver.AppliedUnit, error) {
	pods, err := d.clientset.CoreV1().Pods(d.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", labelRelease, release),
	})
	if err != nil {
		return nil, driver.Recoverable(fmt.Errorf("failed to list pods for release %s: %w", release, err))
	}

	units := make([]driver.AppliedUnit, 0, len(pods.Items))
	for _, pod := range pods.Items {
		vnfcID := pod.Labels[LabelVnfcID]
		if vnfcID == "" {
			continue
		}
		units = append(units, driver.AppliedUnit{
			VnfcID:            vnfcID,
			VduID:             pod.Labels[LabelVduID],
			ComputeResourceID: string(pod.UID),
		})
	}

	return units, nil
}

// Health verifies Helm storage and Kubernetes API connectivity.
func (d *Driver) Health(ctx context.Context) error {
	if err := d.initialize(ctx); err != nil {
		return fmt.Errorf("helm driver not healthy: %w", err)
	}

	client := action.NewList(d.actionCfg)
	client.Limit = 1
	if _, err := client.Run(); err != nil {
		return fmt.Errorf("helm health check failed: %w", err)
	}

	return nil
}

// Close cleanly shuts down the driver.
func (d *Driver) Close() error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	d.initialized = false
	d.actionCfg = nil
	d.clientset = nil
	return nil
}

// buildValues renders the desired set into chart values. Each VDU becomes an
// entry under "vdus" with its image, flavour and the exact VNFC identities the
// chart must materialize.
func buildValues(vnfInstanceID string, desired *driver.ResourceSet, additionalParams map[string]interface{}) map[string]interface{} {
	vdus := make(map[string]interface{})
	for _, u := range desired.Units {
		entry, ok := vdus[u.VduID].(map[string]interface{})
		if !ok {
			entry = map[string]interface{}{
				"image":    u.ImageID,
				"flavour":  u.FlavourID,
				"networks": u.Networks,
				"vnfcIds":  []interface{}{},
			}
			vdus[u.VduID] = entry
		}
		entry["vnfcIds"] = append(entry["vnfcIds"].([]interface{}), u.VnfcID)
		entry["replicas"] = len(entry["vnfcIds"].([]interface{}))
	}

	values := map[string]interface{}{
		"vnfInstanceId": vnfInstanceID,
		"vdus":          vdus,
	}

	if len(desired.ExternalNetworks) > 0 {
		external := make(map[string]interface{}, len(desired.ExternalNetworks))
		for cp, net := range desired.ExternalNetworks {
			external[cp] = net
		}
		values["externalNetworks"] = external
	}

	for k, v := range additionalParams {
		if k == "helm_chart" {
			continue
		}
		values[k] = v
	}

	return values
}
