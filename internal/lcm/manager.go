// Package lcm implements the VNF lifecycle operation state machine.
//
// Every lifecycle operation runs as an LCM operation occurrence: the request
// is validated, the per-instance task lock is acquired, the occurrence is
// persisted in STARTING, and a background task drives it through PROCESSING
// to COMPLETED or FAILED_TEMP. Failures never resolve themselves; an
// occurrence parked in FAILED_TEMP holds the instance lock until an operator
// retries, rolls back, or fails it.
package lcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/descriptor"
	"github.com/piwi3910/vnfweave/internal/driver"
	"github.com/piwi3910/vnfweave/internal/models"
	"github.com/piwi3910/vnfweave/internal/planner"
	"github.com/piwi3910/vnfweave/internal/store"
)

// ErrValidation indicates malformed or out-of-range request parameters.
// Requests failing validation never create an occurrence.
var ErrValidation = errors.New("validation error")

// DefaultOperationTimeout bounds a single driver apply or rollback call.
const DefaultOperationTimeout = 30 * time.Minute

// Notifier receives operation state change events. Delivery is
// fire-and-forget; the state machine never blocks on it.
type Notifier interface {
	OperationStateChanged(inst *models.VnfInstance, occ *models.LcmOpOcc)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// OperationStateChanged implements Notifier.
func (NopNotifier) OperationStateChanged(*models.VnfInstance, *models.LcmOpOcc) {}

// Config holds Manager tuning knobs.
type Config struct {
	// OperationTimeout bounds each driver apply/rollback call. A timeout
	// is treated as a recoverable failure, never as success.
	OperationTimeout time.Duration
}

// Manager owns the lifecycle operation state machine.
type Manager struct {
	store       store.Store
	descriptors descriptor.Provider
	drivers     *driver.Registry
	planner     *planner.Planner
	notifier    Notifier
	logger      *zap.Logger
	opTimeout   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager. A nil notifier disables notifications.
func NewManager(st store.Store, descriptors descriptor.Provider, drivers *driver.Registry, notifier Notifier, logger *zap.Logger, cfg Config) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.OperationTimeout
	if timeout == 0 {
		timeout = DefaultOperationTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:       st,
		descriptors: descriptors,
		drivers:     drivers,
		planner:     planner.New(),
		notifier:    notifier,
		logger:      logger,
		opTimeout:   timeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Stop cancels in-flight background tasks and waits for them to park their
// occurrences. Safe to call once.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// CreateInstance records a new VNF instance in NOT_INSTANTIATED. The
// descriptor must resolve so the instance carries its lineage fields.
func (m *Manager) CreateInstance(ctx context.Context, req *models.CreateVnfRequest) (*models.VnfInstance, error) {
	desc, err := m.descriptors.Get(ctx, req.VnfdID)
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor %q: %v", ErrValidation, req.VnfdID, err)
	}

	inst := &models.VnfInstance{
		ID:                     uuid.NewString(),
		VnfdID:                 desc.VnfdID,
		VnfInstanceName:        req.VnfInstanceName,
		VnfInstanceDescription: req.VnfInstanceDescription,
		VnfProvider:            desc.Provider,
		VnfProductName:         desc.ProductName,
		VnfSoftwareVersion:     desc.SoftwareVersion,
		VnfdVersion:            desc.Version,
		InstantiationState:     models.InstantiationStateNotInstantiated,
		Metadata:               req.Metadata,
	}

	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	m.logger.Info("VNF instance created",
		zap.String("vnfInstanceId", inst.ID),
		zap.String("vnfdId", inst.VnfdID))

	return inst, nil
}

// GetInstance returns one instance.
func (m *Manager) GetInstance(ctx context.Context, id string) (*models.VnfInstance, error) {
	return m.store.GetInstance(ctx, id)
}

// ListInstances returns all instances.
func (m *Manager) ListInstances(ctx context.Context) ([]*models.VnfInstance, error) {
	return m.store.ListInstances(ctx)
}

// DeleteInstance removes a NOT_INSTANTIATED, unlocked instance.
func (m *Manager) DeleteInstance(ctx context.Context, id string) error {
	if err := m.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	m.logger.Info("VNF instance deleted", zap.String("vnfInstanceId", id))
	return nil
}

// GetOpOcc returns one occurrence.
func (m *Manager) GetOpOcc(ctx context.Context, id string) (*models.LcmOpOcc, error) {
	return m.store.GetOpOcc(ctx, id)
}

// ListOpOccs returns all occurrences.
func (m *Manager) ListOpOccs(ctx context.Context) ([]*models.LcmOpOcc, error) {
	return m.store.ListOpOccs(ctx)
}

// ListOpOccsByInstance returns the occurrences of one instance.
func (m *Manager) ListOpOccsByInstance(ctx context.Context, vnfInstanceID string) ([]*models.LcmOpOcc, error) {
	return m.store.ListOpOccsByInstance(ctx, vnfInstanceID)
}

// Instantiate requests an INSTANTIATE operation.
func (m *Manager) Instantiate(ctx context.Context, vnfInstanceID string, req *models.InstantiateVnfRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationInstantiate, req, func(inst *models.VnfInstance) error {
		if inst.InstantiationState != models.InstantiationStateNotInstantiated {
			return fmt.Errorf("%w: instance %s is already instantiated", store.ErrInvalidState, inst.ID)
		}
		if _, err := m.drivers.Get(req.VimConnectionID); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil
	})
}

// Scale requests a SCALE operation. Out-of-bounds requests are rejected here,
// before any occurrence exists.
func (m *Manager) Scale(ctx context.Context, vnfInstanceID string, req *models.ScaleVnfRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationScale, req, func(inst *models.VnfInstance) error {
		if err := requireInstantiated(inst); err != nil {
			return err
		}
		desc, err := m.descriptors.Get(ctx, inst.VnfdID)
		if err != nil {
			return fmt.Errorf("%w: descriptor %q: %v", ErrValidation, inst.VnfdID, err)
		}
		if err := m.planner.CheckScaleBounds(req, inst.InstantiatedVnfInfo, desc); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil
	})
}

// Heal requests a HEAL operation.
func (m *Manager) Heal(ctx context.Context, vnfInstanceID string, req *models.HealVnfRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationHeal, req, requireInstantiated)
}

// Terminate requests a TERMINATE operation. Termination runs through the
// same state machine: a crash mid-terminate parks the occurrence in
// FAILED_TEMP with partial resources rather than silently deleting.
func (m *Manager) Terminate(ctx context.Context, vnfInstanceID string, req *models.TerminateVnfRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationTerminate, req, requireInstantiated)
}

// ChangeExtConn requests a CHANGE_EXT_CONN operation.
func (m *Manager) ChangeExtConn(ctx context.Context, vnfInstanceID string, req *models.ChangeExtVnfConnectivityRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationChangeExtConn, req, requireInstantiated)
}

// ChangeVnfPkg requests a CHANGE_VNFPKG operation.
func (m *Manager) ChangeVnfPkg(ctx context.Context, vnfInstanceID string, req *models.ChangeCurrentVnfPkgRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationChangeVnfPkg, req, requireInstantiated)
}

// ModifyInfo requests a MODIFY_INFO operation. It changes only instance
// metadata and lineage, never VIM resources, but still serializes through
// the state machine so it cannot interleave with a resource operation.
func (m *Manager) ModifyInfo(ctx context.Context, vnfInstanceID string, req *models.VnfInfoModificationRequest) (*models.LcmOpOcc, error) {
	return m.startOperation(ctx, vnfInstanceID, models.OperationModifyInfo, req, func(*models.VnfInstance) error {
		return nil
	})
}

func requireInstantiated(inst *models.VnfInstance) error {
	if inst.InstantiationState != models.InstantiationStateInstantiated {
		return fmt.Errorf("%w: instance %s is not instantiated", store.ErrInvalidState, inst.ID)
	}
	return nil
}

// startOperation runs the operation request protocol: validate, acquire the
// instance task lock, persist an occurrence in STARTING, and hand it to a
// background executor. On Conflict no occurrence is created.
func (m *Manager) startOperation(ctx context.Context, vnfInstanceID string, op models.LcmOperation, params interface{}, precheck func(*models.VnfInstance) error) (*models.LcmOpOcc, error) {
	inst, err := m.store.GetInstance(ctx, vnfInstanceID)
	if err != nil {
		return nil, err
	}

	if err := precheck(inst); err != nil {
		OperationsRejectedTotal.WithLabelValues(string(op), rejectionReason(err)).Inc()
		return nil, err
	}

	if err := m.store.AcquireTask(ctx, vnfInstanceID, string(op)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			OperationsRejectedTotal.WithLabelValues(string(op), "conflict").Inc()
		}
		return nil, err
	}

	// Re-read under the lock: the precheck raced against whichever
	// operation held the lock before us.
	inst, err = m.store.GetInstance(ctx, vnfInstanceID)
	if err != nil {
		_ = m.store.ReleaseTask(ctx, vnfInstanceID)
		return nil, err
	}
	if err := precheck(inst); err != nil {
		_ = m.store.ReleaseTask(ctx, vnfInstanceID)
		OperationsRejectedTotal.WithLabelValues(string(op), rejectionReason(err)).Inc()
		return nil, err
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		_ = m.store.ReleaseTask(ctx, vnfInstanceID)
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	occ := &models.LcmOpOcc{
		ID:               uuid.NewString(),
		VnfInstanceID:    vnfInstanceID,
		Operation:        op,
		OperationState:   models.OperationStateStarting,
		OperationParams:  rawParams,
		PriorInfo:        inst.InstantiatedVnfInfo.Clone(),
		PriorInstance:    inst.Snapshot(),
		StartTime:        now,
		StateEnteredTime: now,
	}

	if err := m.store.CreateOpOcc(ctx, occ); err != nil {
		_ = m.store.ReleaseTask(ctx, vnfInstanceID)
		return nil, err
	}

	m.logger.Info("operation accepted",
		zap.String("vnfInstanceId", vnfInstanceID),
		zap.String("lcmOpOccId", occ.ID),
		zap.String("operation", string(op)))

	m.runAsync(occ.ID, m.execute)

	return occ, nil
}

// runAsync runs fn against the occurrence on the manager's background
// context.
func (m *Manager) runAsync(occID string, fn func(ctx context.Context, occID string)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.baseCtx, occID)
	}()
}

// execute drives a STARTING occurrence: transition to PROCESSING, plan,
// persist the plan, then apply.
func (m *Manager) execute(ctx context.Context, occID string) {
	occ, err := m.store.GetOpOcc(ctx, occID)
	if err != nil {
		m.logger.Error("executor lost its occurrence", zap.String("lcmOpOccId", occID), zap.Error(err))
		return
	}

	inst, err := m.store.GetInstance(ctx, occ.VnfInstanceID)
	if err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "Instance retrieval failed", err.Error())
		return
	}

	if err := m.setState(ctx, occ, models.OperationStateProcessing); err != nil {
		m.logger.Error("failed to enter PROCESSING", zap.String("lcmOpOccId", occID), zap.Error(err))
		return
	}

	if occ.Operation == models.OperationModifyInfo {
		m.applyModifyInfo(ctx, occ, inst)
		return
	}

	plan, err := m.plan(ctx, occ, inst)
	if err != nil {
		status := http.StatusUnprocessableEntity
		title := "Planning failed"
		if errors.Is(err, planner.ErrUnsupportedChange) {
			title = "Unsupported package change"
		}
		m.failTemp(ctx, occ, status, title, err.Error())
		return
	}

	// Persist the plan before touching the VIM so retry and crash
	// recovery replay the exact same change set.
	occ.ResourceChanges = plan.Changes
	occ.TargetInfo = plan.TargetInfo
	occ.ExternalNetworks = plan.ExternalNetworks
	if err := m.store.UpdateOpOcc(ctx, occ); err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "Plan persistence failed", err.Error())
		return
	}

	m.apply(ctx, occ, inst)
}

// plan invokes the planner for the occurrence's operation.
func (m *Manager) plan(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance) (*planner.Plan, error) {
	switch occ.Operation {
	case models.OperationInstantiate:
		var req models.InstantiateVnfRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", planner.ErrDataRetrieval, err)
		}
		desc, err := m.descriptors.Get(ctx, inst.VnfdID)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor %q: %v", planner.ErrDataRetrieval, inst.VnfdID, err)
		}
		return m.planner.PlanInstantiate(occ.ID, &req, desc)

	case models.OperationScale:
		var req models.ScaleVnfRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", planner.ErrDataRetrieval, err)
		}
		desc, err := m.descriptors.Get(ctx, inst.VnfdID)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor %q: %v", planner.ErrDataRetrieval, inst.VnfdID, err)
		}
		return m.planner.PlanScale(occ.ID, &req, inst.InstantiatedVnfInfo, desc)

	case models.OperationHeal:
		var req models.HealVnfRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", planner.ErrDataRetrieval, err)
		}
		return m.planner.PlanHeal(occ.ID, &req, inst.InstantiatedVnfInfo)

	case models.OperationTerminate:
		return m.planner.PlanTerminate(inst.InstantiatedVnfInfo)

	case models.OperationChangeExtConn:
		var req models.ChangeExtVnfConnectivityRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", planner.ErrDataRetrieval, err)
		}
		return m.planner.PlanChangeExtConn(&req, inst.InstantiatedVnfInfo)

	case models.OperationChangeVnfPkg:
		var req models.ChangeCurrentVnfPkgRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", planner.ErrDataRetrieval, err)
		}
		newDesc, err := m.descriptors.Get(ctx, req.VnfdID)
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor %q: %v", planner.ErrDataRetrieval, req.VnfdID, err)
		}
		return m.planner.PlanChangeVnfPkg(occ.ID, &req, inst.InstantiatedVnfInfo, newDesc)

	default:
		return nil, fmt.Errorf("%w: operation %s has no planner", planner.ErrDataRetrieval, occ.Operation)
	}
}

// apply invokes the infra driver with the persisted plan and completes or
// parks the occurrence. Retry re-enters here directly, skipping planning.
func (m *Manager) apply(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance) {
	drv, err := m.resolveDriver(occ, inst)
	if err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "Infra driver unavailable", err.Error())
		return
	}

	desired := desiredSet(occ.TargetInfo, occ.ExternalNetworks)

	applyCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	result, err := drv.Apply(applyCtx, inst.ID, desired, additionalParams(occ.OperationParams))
	if err != nil {
		// Both error classes park in FAILED_TEMP; only the operator
		// closes an occurrence. The class is diagnostic.
		title := "Infra driver apply failed"
		if driver.Classify(err) == driver.ClassFatal {
			title = "Infra driver rejected the resource set"
		}
		m.failTemp(ctx, occ, http.StatusBadGateway, title, err.Error())
		return
	}

	m.complete(ctx, occ, inst, result)
}

// complete folds the applied result into the instance and finishes the
// occurrence.
func (m *Manager) complete(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance, result *driver.AppliedResult) {
	foldAppliedResult(occ, result)

	if err := m.store.ReplaceInstantiatedInfo(ctx, inst.ID, occ.TargetInfo); err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "State persistence failed", err.Error())
		return
	}

	switch occ.Operation {
	case models.OperationInstantiate:
		if err := m.recordVimConnection(ctx, occ, inst); err != nil {
			m.failTemp(ctx, occ, http.StatusInternalServerError, "State persistence failed", err.Error())
			return
		}
	case models.OperationChangeVnfPkg:
		if err := m.updateLineage(ctx, occ, inst); err != nil {
			m.failTemp(ctx, occ, http.StatusInternalServerError, "Lineage update failed", err.Error())
			return
		}
	}

	if err := m.setState(ctx, occ, models.OperationStateCompleted); err != nil {
		m.logger.Error("failed to enter COMPLETED", zap.String("lcmOpOccId", occ.ID), zap.Error(err))
		return
	}

	if err := m.store.ReleaseTask(ctx, occ.VnfInstanceID); err != nil {
		m.logger.Error("failed to release task lock",
			zap.String("vnfInstanceId", occ.VnfInstanceID), zap.Error(err))
	}

	OperationsTotal.WithLabelValues(string(occ.Operation), "completed").Inc()
	OperationDuration.WithLabelValues(string(occ.Operation)).Observe(time.Since(occ.StartTime).Seconds())

	m.logger.Info("operation completed",
		zap.String("vnfInstanceId", occ.VnfInstanceID),
		zap.String("lcmOpOccId", occ.ID),
		zap.String("operation", string(occ.Operation)))

	m.notifyState(ctx, occ)
}

// recordVimConnection pins the instance to the driver that realized it so
// every later operation resolves the same VIM.
func (m *Manager) recordVimConnection(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance) error {
	drv, err := m.resolveDriver(occ, inst)
	if err != nil {
		return err
	}
	current, err := m.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	if current.VimConnection == drv.Name() {
		return nil
	}
	current.VimConnection = drv.Name()
	return m.store.UpdateInstance(ctx, current)
}

// updateLineage moves the instance to the package change's new descriptor.
func (m *Manager) updateLineage(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance) error {
	var req models.ChangeCurrentVnfPkgRequest
	if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
		return err
	}
	desc, err := m.descriptors.Get(ctx, req.VnfdID)
	if err != nil {
		return err
	}

	current, err := m.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	current.VnfdID = desc.VnfdID
	current.VnfProvider = desc.Provider
	current.VnfProductName = desc.ProductName
	current.VnfSoftwareVersion = desc.SoftwareVersion
	current.VnfdVersion = desc.Version
	return m.store.UpdateInstance(ctx, current)
}

// applyModifyInfo applies a MODIFY_INFO request. No VIM interaction.
func (m *Manager) applyModifyInfo(ctx context.Context, occ *models.LcmOpOcc, inst *models.VnfInstance) {
	var req models.VnfInfoModificationRequest
	if err := json.Unmarshal(occ.OperationParams, &req); err != nil {
		m.failTemp(ctx, occ, http.StatusUnprocessableEntity, "Malformed modification request", err.Error())
		return
	}

	current, err := m.store.GetInstance(ctx, inst.ID)
	if err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "Instance retrieval failed", err.Error())
		return
	}

	if req.VnfInstanceName != nil {
		current.VnfInstanceName = *req.VnfInstanceName
	}
	if req.VnfInstanceDescription != nil {
		current.VnfInstanceDescription = *req.VnfInstanceDescription
	}
	if req.VnfdID != nil {
		desc, err := m.descriptors.Get(ctx, *req.VnfdID)
		if err != nil {
			m.failTemp(ctx, occ, http.StatusUnprocessableEntity, "Planning failed",
				fmt.Sprintf("descriptor %q: %v", *req.VnfdID, err))
			return
		}
		current.VnfdID = desc.VnfdID
		current.VnfProvider = desc.Provider
		current.VnfProductName = desc.ProductName
		current.VnfSoftwareVersion = desc.SoftwareVersion
		current.VnfdVersion = desc.Version
	}
	if req.Metadata != nil {
		if current.Metadata == nil {
			current.Metadata = make(map[string]string, len(req.Metadata))
		}
		for k, v := range req.Metadata {
			current.Metadata[k] = v
		}
	}

	if err := m.store.UpdateInstance(ctx, current); err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "State persistence failed", err.Error())
		return
	}

	if err := m.setState(ctx, occ, models.OperationStateCompleted); err != nil {
		m.logger.Error("failed to enter COMPLETED", zap.String("lcmOpOccId", occ.ID), zap.Error(err))
		return
	}
	if err := m.store.ReleaseTask(ctx, occ.VnfInstanceID); err != nil {
		m.logger.Error("failed to release task lock",
			zap.String("vnfInstanceId", occ.VnfInstanceID), zap.Error(err))
	}

	OperationsTotal.WithLabelValues(string(occ.Operation), "completed").Inc()
	OperationDuration.WithLabelValues(string(occ.Operation)).Observe(time.Since(occ.StartTime).Seconds())
	m.notifyState(ctx, occ)
}

// Retry re-runs the apply step of a FAILED_TEMP occurrence with its
// persisted plan. The planner is not consulted again.
func (m *Manager) Retry(ctx context.Context, occID string) (*models.LcmOpOcc, error) {
	occ, err := m.takeFailedTemp(ctx, occID, models.OperationStateProcessing)
	if err != nil {
		return nil, err
	}

	m.runAsync(occ.ID, func(ctx context.Context, occID string) {
		occ, err := m.store.GetOpOcc(ctx, occID)
		if err != nil {
			m.logger.Error("retry lost its occurrence", zap.String("lcmOpOccId", occID), zap.Error(err))
			return
		}
		inst, err := m.store.GetInstance(ctx, occ.VnfInstanceID)
		if err != nil {
			m.failTemp(ctx, occ, http.StatusInternalServerError, "Instance retrieval failed", err.Error())
			return
		}
		if occ.Operation == models.OperationModifyInfo {
			m.applyModifyInfo(ctx, occ, inst)
			return
		}
		m.apply(ctx, occ, inst)
	})

	return occ, nil
}

// Rollback restores the pre-operation resource set and instance fields of a
// FAILED_TEMP occurrence, then releases the instance.
func (m *Manager) Rollback(ctx context.Context, occID string) (*models.LcmOpOcc, error) {
	occ, err := m.takeFailedTemp(ctx, occID, models.OperationStateRollingBack)
	if err != nil {
		return nil, err
	}

	m.runAsync(occ.ID, m.executeRollback)

	return occ, nil
}

func (m *Manager) executeRollback(ctx context.Context, occID string) {
	occ, err := m.store.GetOpOcc(ctx, occID)
	if err != nil {
		m.logger.Error("rollback lost its occurrence", zap.String("lcmOpOccId", occID), zap.Error(err))
		return
	}

	inst, err := m.store.GetInstance(ctx, occ.VnfInstanceID)
	if err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "Instance retrieval failed", err.Error())
		return
	}

	if occ.Operation != models.OperationModifyInfo {
		drv, err := m.resolveDriver(occ, inst)
		if err != nil {
			m.failTemp(ctx, occ, http.StatusInternalServerError, "Infra driver unavailable", err.Error())
			return
		}

		rollbackCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
		defer cancel()

		prior := desiredSet(occ.PriorInfo, occ.ExternalNetworks)
		if err := drv.Rollback(rollbackCtx, inst.ID, prior); err != nil {
			m.failTemp(ctx, occ, http.StatusBadGateway, "Infra driver rollback failed", err.Error())
			return
		}
	}

	if err := m.store.ReplaceInstantiatedInfo(ctx, inst.ID, occ.PriorInfo); err != nil {
		m.failTemp(ctx, occ, http.StatusInternalServerError, "State persistence failed", err.Error())
		return
	}

	if occ.PriorInstance != nil {
		current, err := m.store.GetInstance(ctx, inst.ID)
		if err == nil {
			occ.PriorInstance.Restore(current)
			err = m.store.UpdateInstance(ctx, current)
		}
		if err != nil {
			m.failTemp(ctx, occ, http.StatusInternalServerError, "State persistence failed", err.Error())
			return
		}
	}

	if err := m.setState(ctx, occ, models.OperationStateRolledBack); err != nil {
		m.logger.Error("failed to enter ROLLED_BACK", zap.String("lcmOpOccId", occ.ID), zap.Error(err))
		return
	}
	if err := m.store.ReleaseTask(ctx, occ.VnfInstanceID); err != nil {
		m.logger.Error("failed to release task lock",
			zap.String("vnfInstanceId", occ.VnfInstanceID), zap.Error(err))
	}

	OperationsTotal.WithLabelValues(string(occ.Operation), "rolled_back").Inc()
	OperationDuration.WithLabelValues(string(occ.Operation)).Observe(time.Since(occ.StartTime).Seconds())

	m.logger.Info("operation rolled back",
		zap.String("vnfInstanceId", occ.VnfInstanceID),
		zap.String("lcmOpOccId", occ.ID))

	m.notifyState(ctx, occ)
}

// Fail abandons recovery of a FAILED_TEMP occurrence. The VIM is left in
// whatever state the failed apply produced; cleaning it up is an operator
// responsibility.
func (m *Manager) Fail(ctx context.Context, occID string) (*models.LcmOpOcc, error) {
	occ, err := m.takeFailedTemp(ctx, occID, models.OperationStateFailed)
	if err != nil {
		return nil, err
	}

	if err := m.store.ReleaseTask(ctx, occ.VnfInstanceID); err != nil {
		m.logger.Error("failed to release task lock",
			zap.String("vnfInstanceId", occ.VnfInstanceID), zap.Error(err))
	}

	OperationsTotal.WithLabelValues(string(occ.Operation), "failed").Inc()
	OperationDuration.WithLabelValues(string(occ.Operation)).Observe(time.Since(occ.StartTime).Seconds())

	m.logger.Warn("operation failed by operator",
		zap.String("vnfInstanceId", occ.VnfInstanceID),
		zap.String("lcmOpOccId", occ.ID))

	m.notifyState(ctx, occ)
	return occ, nil
}

// Cancel records an advisory cancellation request on an in-flight
// occurrence. The running driver call is allowed to finish; aborting
// mid-apply can leave the VIM unrecoverable.
func (m *Manager) Cancel(ctx context.Context, occID string) (*models.LcmOpOcc, error) {
	occ, err := m.store.GetOpOcc(ctx, occID)
	if err != nil {
		return nil, err
	}

	switch occ.OperationState {
	case models.OperationStateStarting, models.OperationStateProcessing, models.OperationStateRollingBack:
	default:
		return nil, fmt.Errorf("%w: occurrence %s is %s", store.ErrInvalidState, occID, occ.OperationState)
	}

	occ.IsCancelPending = true
	if err := m.store.UpdateOpOcc(ctx, occ); err != nil {
		return nil, err
	}
	return occ, nil
}

// RecoverPending parks every non-terminal occurrence in FAILED_TEMP. Called
// once at startup: an occurrence found mid-flight after a restart has an
// unknown apply outcome, and the system never assumes an indeterminate
// apply succeeded.
func (m *Manager) RecoverPending(ctx context.Context) error {
	pending, err := m.store.ListPendingOpOccs(ctx)
	if err != nil {
		return err
	}

	for _, occ := range pending {
		switch occ.OperationState {
		case models.OperationStateStarting, models.OperationStateProcessing, models.OperationStateRollingBack:
		default:
			continue
		}

		m.failTemp(ctx, occ, http.StatusInternalServerError, "Operation interrupted",
			fmt.Sprintf("occurrence was %s when the manager restarted; the apply outcome is unknown", occ.OperationState))
		RecoveredOccurrencesTotal.Inc()

		m.logger.Warn("parked interrupted occurrence",
			zap.String("vnfInstanceId", occ.VnfInstanceID),
			zap.String("lcmOpOccId", occ.ID),
			zap.String("operation", string(occ.Operation)))
	}

	return nil
}

// takeFailedTemp atomically moves a FAILED_TEMP occurrence into next. The
// transition is a conditional update in the store, so when two control
// actions race on the same occurrence exactly one wins and the loser gets
// ErrInvalidState.
func (m *Manager) takeFailedTemp(ctx context.Context, occID string, next models.OperationState) (*models.LcmOpOcc, error) {
	occ, err := m.store.GetOpOcc(ctx, occID)
	if err != nil {
		return nil, err
	}
	if occ.OperationState != models.OperationStateFailedTemp {
		return nil, fmt.Errorf("%w: occurrence %s is %s, control actions require FAILED_TEMP",
			store.ErrInvalidState, occID, occ.OperationState)
	}

	occ.OperationState = next
	occ.StateEnteredTime = time.Now().UTC()
	if err := m.store.UpdateOpOccIf(ctx, occ, models.OperationStateFailedTemp); err != nil {
		return nil, err
	}
	FailedTempGauge.Dec()
	return occ, nil
}

// failTemp parks the occurrence in FAILED_TEMP with the given problem. The
// instance task lock is deliberately kept: a half-applied resource set must
// not accept a second operation until the operator resolves this one.
func (m *Manager) failTemp(ctx context.Context, occ *models.LcmOpOcc, status int, title, detail string) {
	occ.OperationState = models.OperationStateFailedTemp
	occ.StateEnteredTime = time.Now().UTC()
	occ.Error = &models.ProblemDetails{
		Status: status,
		Title:  title,
		Detail: detail,
	}

	if err := m.store.UpdateOpOcc(ctx, occ); err != nil {
		m.logger.Error("failed to persist FAILED_TEMP",
			zap.String("lcmOpOccId", occ.ID), zap.Error(err))
		return
	}

	FailedTempGauge.Inc()
	OperationsTotal.WithLabelValues(string(occ.Operation), "failed_temp").Inc()

	m.logger.Warn("operation parked in FAILED_TEMP",
		zap.String("vnfInstanceId", occ.VnfInstanceID),
		zap.String("lcmOpOccId", occ.ID),
		zap.String("operation", string(occ.Operation)),
		zap.String("detail", detail))

	m.notifyState(ctx, occ)
}

// setState persists a state transition.
func (m *Manager) setState(ctx context.Context, occ *models.LcmOpOcc, state models.OperationState) error {
	occ.OperationState = state
	occ.StateEnteredTime = time.Now().UTC()
	return m.store.UpdateOpOcc(ctx, occ)
}

// notifyState emits a state change notification. Failures are logged and
// dropped; delivery never blocks or rolls back the state machine.
func (m *Manager) notifyState(ctx context.Context, occ *models.LcmOpOcc) {
	inst, err := m.store.GetInstance(ctx, occ.VnfInstanceID)
	if err != nil {
		inst = &models.VnfInstance{ID: occ.VnfInstanceID}
	}
	m.notifier.OperationStateChanged(inst, occ)
}

// resolveDriver picks the infra driver for the occurrence's instance. An
// INSTANTIATE in flight may carry the driver choice in its parameters before
// the instance records it.
func (m *Manager) resolveDriver(occ *models.LcmOpOcc, inst *models.VnfInstance) (driver.Driver, error) {
	name := inst.VimConnection
	if name == "" && occ.Operation == models.OperationInstantiate {
		var req models.InstantiateVnfRequest
		if err := json.Unmarshal(occ.OperationParams, &req); err == nil {
			name = req.VimConnectionID
		}
	}
	return m.drivers.Get(name)
}

// foldAppliedResult writes the driver-assigned compute resource ids into the
// target inventory and the change set.
func foldAppliedResult(occ *models.LcmOpOcc, result *driver.AppliedResult) {
	if result == nil {
		return
	}
	occ.GrantToken = result.CorrelationToken

	byVnfc := make(map[string]string, len(result.Units))
	for _, u := range result.Units {
		byVnfc[u.VnfcID] = u.ComputeResourceID
	}

	if occ.TargetInfo != nil {
		for i := range occ.TargetInfo.VnfcResourceInfo {
			if id, ok := byVnfc[occ.TargetInfo.VnfcResourceInfo[i].ID]; ok {
				occ.TargetInfo.VnfcResourceInfo[i].ComputeResourceID = id
			}
		}
	}
	for i := range occ.ResourceChanges {
		if occ.ResourceChanges[i].ChangeType == models.ChangeTypeRemoved {
			continue
		}
		if id, ok := byVnfc[occ.ResourceChanges[i].AffectedVnfcID]; ok {
			occ.ResourceChanges[i].ComputeResourceID = id
		}
	}
}

// desiredSet renders a target inventory into the driver's declarative
// resource set. A nil inventory renders as the empty set.
func desiredSet(info *models.InstantiatedVnfInfo, extNets map[string]string) *driver.ResourceSet {
	set := &driver.ResourceSet{ExternalNetworks: extNets}
	if info == nil {
		return set
	}

	for _, vnfc := range info.VnfcResourceInfo {
		unit := driver.DesiredUnit{
			VnfcID:    vnfc.ID,
			VduID:     vnfc.VduID,
			ImageID:   vnfc.ImageID,
			FlavourID: vnfc.FlavourID,
		}
		for _, cp := range vnfc.ConnectionPoints {
			switch {
			case cp.ExtVirtualLinkID != "":
				if net, ok := extNets[cp.ExtVirtualLinkID]; ok && net != "" {
					unit.Networks = append(unit.Networks, net)
				} else {
					unit.Networks = append(unit.Networks, cp.ExtVirtualLinkID)
				}
			case cp.VirtualLinkID != "":
				unit.Networks = append(unit.Networks, cp.VirtualLinkID)
			}
		}
		set.Units = append(set.Units, unit)
	}

	return set
}

// additionalParams extracts the pass-through driver parameters from an
// operation's raw request payload.
func additionalParams(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var probe struct {
		AdditionalParams map[string]interface{} `json:"additionalParams"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.AdditionalParams
}

// rejectionReason labels an intake rejection for metrics.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
