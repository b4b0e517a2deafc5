// Package openstack provides a Heat-backed infra driver. Each VNF instance
// maps to one Heat stack; the desired resource set is rendered into a HOT
// template and converged with stack create/update calls.
package openstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/orchestration/v1/stacks"
	"github.com/gophercloud/gophercloud/pagination"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/driver"
)

// Stack status values reported by Heat.
const (
	statusCreateComplete = "CREATE_COMPLETE"
	statusUpdateComplete = "UPDATE_COMPLETE"
	statusCreateFailed   = "CREATE_FAILED"
	statusUpdateFailed   = "UPDATE_FAILED"
	statusDeleteFailed   = "DELETE_FAILED"
)

// Driver implements driver.Driver against OpenStack Heat.
type Driver struct {
	// provider is the authenticated OpenStack provider client.
	provider *gophercloud.ProviderClient

	// orchestration is the Heat service client.
	orchestration *gophercloud.ServiceClient

	// logger provides structured logging.
	logger *zap.Logger

	// region is the OpenStack region this driver deploys into.
	region string

	// pollInterval controls how often stack status is polled while a
	// create or update is in flight.
	pollInterval time.Duration

	// waitTimeout bounds how long Apply waits for a stack to converge.
	waitTimeout time.Duration
}

// Config holds configuration for creating a Heat driver.
type Config struct {
	// AuthURL is the Keystone authentication endpoint.
	// Example: "https://openstack.example.com:5000/v3"
	AuthURL string

	// Username is the OpenStack username for authentication.
	Username string

	// Password is the OpenStack password for authentication.
	Password string

	// ProjectName is the OpenStack project (tenant) name.
	ProjectName string

	// DomainName is the OpenStack domain name (default: "Default").
	DomainName string

	// Region is the OpenStack region to deploy into.
	Region string

	// Logger is the logger to use. If nil, a default logger will be created.
	Logger *zap.Logger

	// Timeout is the timeout for OpenStack API calls.
	// Defaults to 30 seconds if not specified.
	Timeout time.Duration

	// PollInterval is how often stack status is polled.
	// Defaults to 5 seconds if not specified.
	PollInterval time.Duration

	// WaitTimeout bounds how long a single Apply waits for the stack.
	// Defaults to 15 minutes if not specified.
	WaitTimeout time.Duration
}

// New creates a Heat driver with the provided configuration. It authenticates
// with Keystone and initializes the orchestration service client.
//
// Example:
//
//	drv, err := openstack.New(&openstack.Config{
//	    AuthURL:     "https://openstack.example.com:5000/v3",
//	    Username:    "vnfm",
//	    Password:    os.Getenv("OPENSTACK_PASSWORD"),
//	    ProjectName: "vnf",
//	    Region:      "RegionOne",
//	})
func New(cfg *Config) (*Driver, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	domainName := cfg.DomainName
	if domainName == "" {
		domainName = "Default"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}

	waitTimeout := cfg.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = 15 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	logger.Info("initializing Heat driver",
		zap.String("authURL", cfg.AuthURL),
		zap.String("username", cfg.Username),
		zap.String("projectName", cfg.ProjectName),
		zap.String("region", cfg.Region))

	authOpts := gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TenantName:       cfg.ProjectName,
		DomainName:       domainName,
		AllowReauth:      true,
	}

	provider, err := openstack.AuthenticatedClient(authOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with OpenStack: %w", err)
	}
	provider.HTTPClient.Timeout = timeout

	orchestration, err := openstack.NewOrchestrationV1(provider, gophercloud.EndpointOpts{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("failed to create Heat orchestration client: %w", err)
	}

	logger.Info("Heat driver initialized",
		zap.String("region", cfg.Region))

	return &Driver{
		provider:      provider,
		orchestration: orchestration,
		logger:        logger,
		region:        cfg.Region,
		pollInterval:  pollInterval,
		waitTimeout:   waitTimeout,
	}, nil
}

// validateConfig validates required configuration fields.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	requiredFields := map[string]string{
		"authURL":     cfg.AuthURL,
		"username":    cfg.Username,
		"password":    cfg.Password,
		"projectName": cfg.ProjectName,
		"region":      cfg.Region,
	}

	for field, value := range requiredFields {
		if value == "" {
			return fmt.Errorf("%s is required", field)
		}
	}

	return nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return "openstack" }

// VimKind returns the VIM technology identifier.
func (d *Driver) VimKind() string { return "openstack.heat" }

// stackName derives the Heat stack name for a VNF instance.
func stackName(vnfInstanceID string) string {
	return "vnf-" + vnfInstanceID
}

// Apply renders the desired set into a HOT template and converges the
// instance's stack towards it. An empty desired set deletes the stack.
func (d *Driver) Apply(ctx context.Context, vnfInstanceID string, desired *driver.ResourceSet, additionalParams map[string]interface{}) (*driver.AppliedResult, error) {
	name := stackName(vnfInstanceID)

	if desired == nil || len(desired.Units) == 0 {
		if err := d.deleteStack(ctx, name); err != nil {
			return nil, err
		}
		return &driver.AppliedResult{CorrelationToken: name}, nil
	}

	templateJSON, err := renderTemplate(desired, additionalParams)
	if err != nil {
		return nil, driver.Fatal(fmt.Errorf("failed to render stack template: %w", err))
	}

	template := &stacks.Template{}
	template.Bin = templateJSON

	stackID, found, err := d.findStack(name)
	if err != nil {
		return nil, classify(err)
	}

	if found {
		updateOpts := stacks.UpdateOpts{TemplateOpts: template}
		if err := stacks.Update(d.orchestration, name, stackID, updateOpts).ExtractErr(); err != nil {
			return nil, classify(fmt.Errorf("failed to update stack %s: %w", name, err))
		}
		d.logger.Info("updating Heat stack",
			zap.String("stack", name),
			zap.String("stackID", stackID))
	} else {
		createOpts := &stacks.CreateOpts{
			Name:         name,
			TemplateOpts: template,
		}
		created, err := stacks.Create(d.orchestration, createOpts).Extract()
		if err != nil {
			return nil, classify(fmt.Errorf("failed to create stack %s: %w", name, err))
		}
		stackID = created.ID
		d.logger.Info("creating Heat stack",
			zap.String("stack", name),
			zap.String("stackID", stackID))
	}

	retrieved, err := d.waitForStack(ctx, name, stackID)
	if err != nil {
		return nil, err
	}

	units, err := unitsFromOutputs(retrieved.Outputs)
	if err != nil {
		return nil, driver.Recoverable(fmt.Errorf("failed to read stack outputs for %s: %w", name, err))
	}

	d.logger.Info("Heat stack converged",
		zap.String("stack", name),
		zap.Int("units", len(units)))

	return &driver.AppliedResult{
		Units:            units,
		CorrelationToken: stackID,
	}, nil
}

// Rollback converges the stack back to the prior resource set.
func (d *Driver) Rollback(ctx context.Context, vnfInstanceID string, prior *driver.ResourceSet) error {
	_, err := d.Apply(ctx, vnfInstanceID, prior, nil)
	return err
}

// Query lists the compute units the instance's stack currently exposes.
func (d *Driver) Query(_ context.Context, vnfInstanceID string) ([]driver.AppliedUnit, error) {
	name := stackName(vnfInstanceID)

	stackID, found, err := d.findStack(name)
	if err != nil {
		return nil, classify(err)
	}
	if !found {
		return nil, driver.ErrVnfNotDeployed
	}

	retrieved, err := stacks.Get(d.orchestration, name, stackID).Extract()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get stack %s: %w", name, err))
	}

	return unitsFromOutputs(retrieved.Outputs)
}

// Health verifies connectivity to the Heat API.
func (d *Driver) Health(_ context.Context) error {
	if err := stacks.List(d.orchestration, stacks.ListOpts{Limit: 1}).EachPage(func(pagination.Page) (bool, error) {
		return false, nil
	}); err != nil {
		return fmt.Errorf("heat API unreachable: %w", err)
	}
	return nil
}

// Close cleanly shuts down the driver.
func (d *Driver) Close() error {
	d.logger.Info("closing Heat driver")
	_ = d.logger.Sync()
	return nil
}

// findStack resolves a stack name to its ID. Returns found=false when the
// stack does not exist.
func (d *Driver) findStack(name string) (string, bool, error) {
	retrieved, err := stacks.Find(d.orchestration, name).Extract()
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to find stack %s: %w", name, err)
	}
	return retrieved.ID, true, nil
}

// waitForStack polls until the stack reaches a terminal status or the wait
// budget is exhausted.
func (d *Driver) waitForStack(ctx context.Context, name, stackID string) (*stacks.RetrievedStack, error) {
	deadline := time.Now().Add(d.waitTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		retrieved, err := stacks.Get(d.orchestration, name, stackID).Extract()
		if err != nil {
			return nil, classify(fmt.Errorf("failed to poll stack %s: %w", name, err))
		}

		switch retrieved.Status {
		case statusCreateComplete, statusUpdateComplete:
			return retrieved, nil
		case statusCreateFailed, statusUpdateFailed, statusDeleteFailed:
			d.logger.Error("Heat stack failed",
				zap.String("stack", name),
				zap.String("status", retrieved.Status),
				zap.String("reason", retrieved.StatusReason))
			return nil, driver.Recoverable(fmt.Errorf("stack %s entered %s: %s", name, retrieved.Status, retrieved.StatusReason))
		}

		if time.Now().After(deadline) {
			return nil, driver.Recoverable(fmt.Errorf("timed out waiting for stack %s (status %s)", name, retrieved.Status))
		}

		select {
		case <-ctx.Done():
			return nil, driver.Recoverable(ctx.Err())
		case <-ticker.C:
		}
	}
}

// deleteStack removes the instance's stack if it exists.
func (d *Driver) deleteStack(ctx context.Context, name string) error {
	stackID, found, err := d.findStack(name)
	if err != nil {
		return classify(err)
	}
	if !found {
		return nil
	}

	if err := stacks.Delete(d.orchestration, name, stackID).ExtractErr(); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify(fmt.Errorf("failed to delete stack %s: %w", name, err))
	}

	d.logger.Info("deleting Heat stack",
		zap.String("stack", name),
		zap.String("stackID", stackID))

	// Deletion is observed as the stack disappearing.
	deadline := time.Now().Add(d.waitTimeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		_, found, err := d.findStack(name)
		if err != nil {
			return classify(err)
		}
		if !found {
			return nil
		}
		if time.Now().After(deadline) {
			return driver.Recoverable(fmt.Errorf("timed out waiting for stack %s deletion", name))
		}
		select {
		case <-ctx.Done():
			return driver.Recoverable(ctx.Err())
		case <-ticker.C:
		}
	}
}

// renderTemplate builds a HOT template (JSON form) with one OS::Nova::Server
// per desired unit and an output block the driver reads back after
// convergence.
func renderTemplate(desired *driver.ResourceSet, additionalParams map[string]interface{}) ([]byte, error) {
	resources := make(map[string]interface{}, len(desired.Units))
	outputUnits := make([]interface{}, 0, len(desired.Units))

	for _, u := range desired.Units {
		if u.VnfcID == "" {
			return nil, fmt.Errorf("desired unit for VDU %s has no VNFC id", u.VduID)
		}

		networks := make([]interface{}, 0, len(u.Networks))
		for _, net := range u.Networks {
			networks = append(networks, map[string]interface{}{"network": net})
		}

		properties := map[string]interface{}{
			"name":   u.VnfcID,
			"image":  u.ImageID,
			"flavor": u.FlavourID,
			"metadata": map[string]interface{}{
				"vdu_id":  u.VduID,
				"vnfc_id": u.VnfcID,
			},
		}
		if len(networks) > 0 {
			properties["networks"] = networks
		}

		resources[u.VnfcID] = map[string]interface{}{
			"type":       "OS::Nova::Server",
			"properties": properties,
		}

		outputUnits = append(outputUnits, map[string]interface{}{
			"vnfc_id":   u.VnfcID,
			"vdu_id":    u.VduID,
			"server_id": map[string]interface{}{"get_resource": u.VnfcID},
		})
	}

	template := map[string]interface{}{
		"heat_template_version": "2018-08-31",
		"description":           "VNF instance resources",
		"resources":             resources,
		"outputs": map[string]interface{}{
			"vnf_units": map[string]interface{}{
				"description": "Deployed compute units",
				"value":       outputUnits,
			},
		},
	}

	if len(additionalParams) > 0 {
		template["parameter_defaults"] = additionalParams
	}

	return json.Marshal(template)
}

// unitsFromOutputs decodes the vnf_units stack output back into applied units.
func unitsFromOutputs(outputs []map[string]interface{}) ([]driver.AppliedUnit, error) {
	for _, out := range outputs {
		key, _ := out["output_key"].(string)
		if key != "vnf_units" {
			continue
		}

		raw, err := json.Marshal(out["output_value"])
		if err != nil {
			return nil, fmt.Errorf("failed to encode vnf_units output: %w", err)
		}

		var decoded []struct {
			VnfcID   string `json:"vnfc_id"`
			VduID    string `json:"vdu_id"`
			ServerID string `json:"server_id"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode vnf_units output: %w", err)
		}

		units := make([]driver.AppliedUnit, 0, len(decoded))
		for _, u := range decoded {
			units = append(units, driver.AppliedUnit{
				VnfcID:            u.VnfcID,
				VduID:             u.VduID,
				ComputeResourceID: u.ServerID,
			})
		}
		return units, nil
	}

	return nil, fmt.Errorf("stack has no vnf_units output")
}

// classify maps a gophercloud error into an infra error class. Client errors
// other than timeouts and throttling are fatal since retrying the same
// request cannot succeed.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		switch {
		case unexpected.Actual == http.StatusRequestTimeout,
			unexpected.Actual == http.StatusTooManyRequests,
			unexpected.Actual >= 500:
			return driver.Recoverable(err)
		case unexpected.Actual >= 400:
			return driver.Fatal(err)
		}
	}

	return driver.Recoverable(err)
}

// isNotFound reports whether the error is an HTTP 404 from the Heat API.
func isNotFound(err error) bool {
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return true
	}
	var unexpected gophercloud.ErrUnexpectedResponseCode
	return errors.As(err, &unexpected) && unexpected.Actual == http.StatusNotFound
}
