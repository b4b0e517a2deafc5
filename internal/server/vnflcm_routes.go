package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/models"
	"github.com/piwi3910/vnfweave/internal/notify"
)

// opOccLocation is the Location header base for accepted operations.
const opOccLocation = "/vnflcm/v1/vnf_lcm_op_occs/"

// accepted writes a 202 with a Location header pointing at the occurrence.
func accepted(c *gin.Context, occ *models.LcmOpOcc) {
	c.Header("Location", opOccLocation+occ.ID)
	c.JSON(http.StatusAccepted, occ)
}

// VNF instance handlers

// handleCreateInstance creates a new VNF instance record.
// POST /vnflcm/v1/vnf_instances
func (s *Server) handleCreateInstance(c *gin.Context) {
	var req models.CreateVnfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	inst, err := s.manager.CreateInstance(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("vnf instance created",
		zap.String("vnf_instance_id", inst.ID),
		zap.String("vnfd_id", inst.VnfdID))

	c.Header("Location", "/vnflcm/v1/vnf_instances/"+inst.ID)
	c.JSON(http.StatusCreated, inst)
}

// handleListInstances lists all VNF instances.
// GET /vnflcm/v1/vnf_instances
func (s *Server) handleListInstances(c *gin.Context) {
	instances, err := s.manager.ListInstances(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vnfInstances": instances,
		"total":        len(instances),
	})
}

// handleGetInstance retrieves a specific VNF instance.
// GET /vnflcm/v1/vnf_instances/:vnfInstanceId
func (s *Server) handleGetInstance(c *gin.Context) {
	inst, err := s.manager.GetInstance(c.Request.Context(), c.Param("vnfInstanceId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, inst)
}

// handleDeleteInstance deletes a NOT_INSTANTIATED VNF instance record.
// DELETE /vnflcm/v1/vnf_instances/:vnfInstanceId
func (s *Server) handleDeleteInstance(c *gin.Context) {
	id := c.Param("vnfInstanceId")
	if err := s.manager.DeleteInstance(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("vnf instance deleted", zap.String("vnf_instance_id", id))
	c.Status(http.StatusNoContent)
}

// handleModifyInfo starts a MODIFY_INFO operation.
// PATCH /vnflcm/v1/vnf_instances/:vnfInstanceId
func (s *Server) handleModifyInfo(c *gin.Context) {
	var req models.VnfInfoModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.ModifyInfo(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// Lifecycle operation handlers

// handleInstantiate starts an INSTANTIATE operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/instantiate
func (s *Server) handleInstantiate(c *gin.Context) {
	var req models.InstantiateVnfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.Instantiate(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleTerminate starts a TERMINATE operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/terminate
func (s *Server) handleTerminate(c *gin.Context) {
	var req models.TerminateVnfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.Terminate(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleScale starts a SCALE operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/scale
func (s *Server) handleScale(c *gin.Context) {
	var req models.ScaleVnfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.Scale(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleHeal starts a HEAL operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/heal
func (s *Server) handleHeal(c *gin.Context) {
	var req models.HealVnfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.Heal(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleChangeExtConn starts a CHANGE_EXT_CONN operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/change_ext_conn
func (s *Server) handleChangeExtConn(c *gin.Context) {
	var req models.ChangeExtVnfConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.ChangeExtConn(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleChangeVnfPkg starts a CHANGE_VNFPKG operation.
// POST /vnflcm/v1/vnf_instances/:vnfInstanceId/change_vnfpkg
func (s *Server) handleChangeVnfPkg(c *gin.Context) {
	var req models.ChangeCurrentVnfPkgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	occ, err := s.manager.ChangeVnfPkg(c.Request.Context(), c.Param("vnfInstanceId"), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// Operation occurrence handlers

// handleListOpOccs lists operation occurrences, optionally filtered by
// instance.
// GET /vnflcm/v1/vnf_lcm_op_occs?vnfInstanceId=...
func (s *Server) handleListOpOccs(c *gin.Context) {
	var (
		occs []*models.LcmOpOcc
		err  error
	)

	if vnfInstanceID := c.Query("vnfInstanceId"); vnfInstanceID != "" {
		occs, err = s.manager.ListOpOccsByInstance(c.Request.Context(), vnfInstanceID)
	} else {
		occs, err = s.manager.ListOpOccs(c.Request.Context())
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vnfLcmOpOccs": occs,
		"total":        len(occs),
	})
}

// handleGetOpOcc retrieves a specific operation occurrence.
// GET /vnflcm/v1/vnf_lcm_op_occs/:vnfLcmOpOccId
func (s *Server) handleGetOpOcc(c *gin.Context) {
	occ, err := s.manager.GetOpOcc(c.Request.Context(), c.Param("vnfLcmOpOccId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, occ)
}

// handleRetry retries a FAILED_TEMP occurrence.
// POST /vnflcm/v1/vnf_lcm_op_occs/:vnfLcmOpOccId/retry
func (s *Server) handleRetry(c *gin.Context) {
	occ, err := s.manager.Retry(c.Request.Context(), c.Param("vnfLcmOpOccId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleRollback rolls back a FAILED_TEMP occurrence.
// POST /vnflcm/v1/vnf_lcm_op_occs/:vnfLcmOpOccId/rollback
func (s *Server) handleRollback(c *gin.Context) {
	occ, err := s.manager.Rollback(c.Request.Context(), c.Param("vnfLcmOpOccId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// handleFail permanently fails a FAILED_TEMP occurrence.
// POST /vnflcm/v1/vnf_lcm_op_occs/:vnfLcmOpOccId/fail
func (s *Server) handleFail(c *gin.Context) {
	occ, err := s.manager.Fail(c.Request.Context(), c.Param("vnfLcmOpOccId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, occ)
}

// handleCancel requests cancellation of an in-flight occurrence.
// The cancel flag is advisory: the running infrastructure call is not
// interrupted mid-flight.
// POST /vnflcm/v1/vnf_lcm_op_occs/:vnfLcmOpOccId/cancel
func (s *Server) handleCancel(c *gin.Context) {
	occ, err := s.manager.Cancel(c.Request.Context(), c.Param("vnfLcmOpOccId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	accepted(c, occ)
}

// Subscription handlers

// createSubscriptionRequest is the request body for subscription creation.
type createSubscriptionRequest struct {
	CallbackURI string                    `json:"callbackUri" binding:"required"`
	Filter      notify.SubscriptionFilter `json:"filter,omitempty"`
}

// handleCreateSubscription creates a notification subscription.
// POST /vnflcm/v1/subscriptions
func (s *Server) handleCreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		problem(c, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}

	sub := &notify.Subscription{
		ID:          uuid.NewString(),
		CallbackURI: req.CallbackURI,
		Filter:      req.Filter,
	}

	if err := s.subscriptions.Create(c.Request.Context(), sub); err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("callback", sub.CallbackURI))

	c.Header("Location", "/vnflcm/v1/subscriptions/"+sub.ID)
	c.JSON(http.StatusCreated, sub)
}

// handleListSubscriptions lists all subscriptions.
// GET /vnflcm/v1/subscriptions
func (s *Server) handleListSubscriptions(c *gin.Context) {
	subs, err := s.subscriptions.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"total":         len(subs),
	})
}

// handleGetSubscription retrieves a specific subscription.
// GET /vnflcm/v1/subscriptions/:subscriptionId
func (s *Server) handleGetSubscription(c *gin.Context) {
	sub, err := s.subscriptions.Get(c.Request.Context(), c.Param("subscriptionId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// handleDeleteSubscription deletes a subscription.
// DELETE /vnflcm/v1/subscriptions/:subscriptionId
func (s *Server) handleDeleteSubscription(c *gin.Context) {
	id := c.Param("subscriptionId")
	if err := s.subscriptions.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("subscription deleted", zap.String("subscription_id", id))
	c.Status(http.StatusNoContent)
}
