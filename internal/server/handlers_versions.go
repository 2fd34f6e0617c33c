package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/gin-gonic/gin"
)

type rollbackRequestPayload struct {
	TargetID     string `json:"target_id"`
	Reason       string `json:"reason"`
	CreateBackup bool   `json:"create_backup"`
}

type confirmRollbackPayload struct {
	PlanID       string `json:"plan_id"`
	Reason       string `json:"reason"`
	CreateBackup bool   `json:"create_backup"`
}

type rollbackStablePayload struct {
	Reason       string `json:"reason"`
	CreateBackup bool   `json:"create_backup"`
}

type stableRequestPayload struct {
	Stable *bool `json:"stable"`
}

type rollbackPlanPayload struct {
	PlanID        string                  `json:"plan_id"`
	Category      configs.Category        `json:"category"`
	TargetID      configs.SnapshotID      `json:"target_id"`
	TargetVersion string                  `json:"target_version"`
	CurrentID     configs.SnapshotID      `json:"current_id"`
	Preview       configs.PreviewDocument `json:"preview"`
	CreatedAt     time.Time               `json:"created_at"`
}

type rollbackResponsePayload struct {
	Snapshot configs.SnapshotView    `json:"snapshot"`
	Backup   *configs.SnapshotView   `json:"backup,omitempty"`
	Preview  configs.PreviewDocument `json:"preview"`
}

func (h *httpHandler) handlePrepareRollback(c *gin.Context) {
	var request rollbackRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	targetID, ok := h.snapshotIDParam(c, request.TargetID)
	if !ok {
		return
	}
	plan, err := h.service.PrepareRollback(c.Request.Context(), targetID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, planPayload(plan))
}

func (h *httpHandler) handlePendingRollback(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	plan, pending := h.service.PendingRollback(category)
	if !pending {
		c.JSON(http.StatusNotFound, errorPayload{Error: "not_found", Code: "server.rollback.not_pending", Message: "no rollback is pending for " + category.String()})
		return
	}
	c.JSON(http.StatusOK, planPayload(plan))
}

func (h *httpHandler) handleConfirmRollback(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request confirmRollbackPayload
	if !h.bindJSON(c, &request) {
		return
	}
	result, err := h.service.ConfirmRollback(c.Request.Context(), actorFromContext(c), configs.ConfirmRollbackRequest{
		Category:     category,
		PlanID:       strings.TrimSpace(request.PlanID),
		Reason:       request.Reason,
		CreateBackup: request.CreateBackup,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.rollbackPayload(result))
}

func (h *httpHandler) handleCancelRollback(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "cancelled": h.service.CancelRollback(category)})
}

func (h *httpHandler) handleRollback(c *gin.Context) {
	var request rollbackRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	targetID, ok := h.snapshotIDParam(c, request.TargetID)
	if !ok {
		return
	}
	result, err := h.service.Rollback(c.Request.Context(), actorFromContext(c), configs.RollbackRequest{
		TargetID:     targetID,
		Reason:       request.Reason,
		CreateBackup: request.CreateBackup,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.rollbackPayload(result))
}

func (h *httpHandler) handleRollbackStable(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request rollbackStablePayload
	if !h.bindJSON(c, &request) {
		return
	}
	result, err := h.service.RollbackToStable(c.Request.Context(), actorFromContext(c), category, request.Reason, request.CreateBackup)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.rollbackPayload(result))
}

func (h *httpHandler) handleCompare(c *gin.Context) {
	left, ok := h.snapshotIDParam(c, c.Query("a"))
	if !ok {
		return
	}
	right, ok := h.snapshotIDParam(c, c.Query("b"))
	if !ok {
		return
	}
	diff, err := h.service.Compare(c.Request.Context(), left, right)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.previewer.Render(diff))
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	id, ok := h.snapshotIDParam(c, c.Param("id"))
	if !ok {
		return
	}
	snapshot, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.Masker().View(snapshot, includeSecrets(c)))
}

func (h *httpHandler) handleDeleteVersion(c *gin.Context) {
	id, ok := h.snapshotIDParam(c, c.Param("id"))
	if !ok {
		return
	}
	deleted, err := h.service.DeleteVersion(c.Request.Context(), actorFromContext(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": h.service.Masker().View(deleted, false)})
}

func (h *httpHandler) handleSetStable(c *gin.Context) {
	id, ok := h.snapshotIDParam(c, c.Param("id"))
	if !ok {
		return
	}
	var request stableRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	if request.Stable == nil {
		h.respondInvalid(c, "server.stable.missing_flag", "stable must be true or false")
		return
	}
	snapshot, err := h.service.SetStable(c.Request.Context(), actorFromContext(c), id, *request.Stable)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.Masker().View(snapshot, false))
}

func (h *httpHandler) rollbackPayload(result configs.RollbackResult) rollbackResponsePayload {
	masker := h.service.Masker()
	payload := rollbackResponsePayload{
		Snapshot: masker.View(result.Snapshot, false),
		Preview:  h.previewer.Render(result.Diff),
	}
	if result.Backup != nil {
		backup := masker.View(*result.Backup, false)
		payload.Backup = &backup
	}
	return payload
}

func planPayload(plan configs.RollbackPlan) rollbackPlanPayload {
	return rollbackPlanPayload{
		PlanID:        plan.PlanID,
		Category:      plan.Category,
		TargetID:      plan.Target.ID,
		TargetVersion: plan.Target.Version,
		CurrentID:     plan.CurrentID,
		Preview:       plan.Preview,
		CreatedAt:     plan.CreatedAt,
	}
}
