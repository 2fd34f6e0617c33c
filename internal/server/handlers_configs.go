package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/gin-gonic/gin"
)

type updateRequestPayload struct {
	Fields         json.RawMessage `json:"fields"`
	Description    string          `json:"description"`
	BaseSnapshotID string          `json:"base_snapshot_id"`
}

type applyRequestPayload struct {
	Category       string          `json:"category"`
	BaseSnapshotID string          `json:"base_snapshot_id"`
	Fields         json.RawMessage `json:"fields"`
	Description    string          `json:"description"`
}

type snapshotRequestPayload struct {
	Fields      json.RawMessage `json:"fields"`
	Description string          `json:"description"`
	Stable      *bool           `json:"stable"`
}

type updateResponsePayload struct {
	Changed  bool                    `json:"changed"`
	Snapshot configs.SnapshotView    `json:"snapshot"`
	Preview  configs.PreviewDocument `json:"preview"`
}

type previewResponsePayload struct {
	Changed bool                    `json:"changed"`
	Preview configs.PreviewDocument `json:"preview"`
	Pending configs.PendingChange   `json:"pending"`
}

type historyResponsePayload struct {
	Items []configs.SnapshotView `json:"items"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

var unchangedPayload = gin.H{"changed": false}

func (h *httpHandler) handleCurrent(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	snapshot, err := h.service.Current(c.Request.Context(), category)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.Masker().View(snapshot, includeSecrets(c)))
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	page, limit, ok := h.pagination(c)
	if !ok {
		return
	}
	var changeType configs.ChangeType
	if raw := strings.TrimSpace(c.Query("change_type")); raw != "" {
		parsed, err := configs.ParseChangeType(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		changeType = parsed
	}
	result, err := h.service.History(c.Request.Context(), configs.HistoryRequest{
		Category:   category,
		ChangeType: changeType,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponsePayload{
		Items: h.service.Masker().Views(result.Items, includeSecrets(c)),
		Total: result.Total,
		Page:  result.Page,
		Limit: result.Limit,
	})
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request updateRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	fields, err := configs.DecodeFields(request.Fields)
	if err != nil {
		h.respondError(c, err)
		return
	}
	base, ok := h.optionalSnapshotID(c, request.BaseSnapshotID)
	if !ok {
		return
	}
	result, err := h.service.Update(c.Request.Context(), actorFromContext(c), configs.UpdateRequest{
		Category:       category,
		Fields:         fields,
		Description:    request.Description,
		BaseSnapshotID: base,
	})
	if errors.Is(err, configs.ErrNoChange) {
		c.JSON(http.StatusOK, unchangedPayload)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updateResponsePayload{
		Changed:  true,
		Snapshot: h.service.Masker().View(result.Snapshot, false),
		Preview:  h.previewer.Render(result.Diff),
	})
}

func (h *httpHandler) handlePreview(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request updateRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	fields, err := configs.DecodeFields(request.Fields)
	if err != nil {
		h.respondError(c, err)
		return
	}
	base, ok := h.optionalSnapshotID(c, request.BaseSnapshotID)
	if !ok {
		return
	}
	result, err := h.service.Preview(c.Request.Context(), configs.UpdateRequest{
		Category:       category,
		Fields:         fields,
		Description:    request.Description,
		BaseSnapshotID: base,
	})
	if errors.Is(err, configs.ErrNoChange) {
		c.JSON(http.StatusOK, unchangedPayload)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, previewResponsePayload{Changed: true, Preview: result.Document, Pending: result.Pending})
}

func (h *httpHandler) handleApply(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request applyRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	if raw := strings.TrimSpace(request.Category); raw != "" && !strings.EqualFold(raw, category.String()) {
		h.respondInvalid(c, "server.apply.category_mismatch", "pending change targets "+raw+", not "+category.String())
		return
	}
	fields, err := configs.DecodeFields(request.Fields)
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.service.Apply(c.Request.Context(), actorFromContext(c), configs.PendingChange{
		Category:       category,
		BaseSnapshotID: configs.SnapshotID(strings.TrimSpace(request.BaseSnapshotID)),
		Fields:         fields,
		Description:    request.Description,
	})
	if errors.Is(err, configs.ErrNoChange) {
		c.JSON(http.StatusOK, unchangedPayload)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updateResponsePayload{
		Changed:  true,
		Snapshot: h.service.Masker().View(result.Snapshot, false),
		Preview:  h.previewer.Render(result.Diff),
	})
}

func (h *httpHandler) handleCreateSnapshot(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	var request snapshotRequestPayload
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &request) {
		return
	}
	var fields configs.Fields
	if trimmed := strings.TrimSpace(string(request.Fields)); trimmed != "" && trimmed != "null" {
		decoded, err := configs.DecodeFields(request.Fields)
		if err != nil {
			h.respondError(c, err)
			return
		}
		fields = decoded
	}
	snapshot, err := h.service.CreateSnapshot(c.Request.Context(), actorFromContext(c), configs.SnapshotRequest{
		Category:    category,
		Fields:      fields,
		Description: request.Description,
		Stable:      request.Stable,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.service.Masker().View(snapshot, false))
}

func (h *httpHandler) handleCleanup(c *gin.Context) {
	category, ok := h.categoryParam(c)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	if !confirmed {
		h.respondInvalid(c, "server.cleanup.confirmation_required", "cleanup is irreversible; repeat with confirm=true")
		return
	}
	removed, err := h.service.Cleanup(c.Request.Context(), actorFromContext(c), category)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "removed": removed})
}

func (h *httpHandler) categoryParam(c *gin.Context) (configs.Category, bool) {
	category, err := h.service.Registry().Resolve(c.Param("category"))
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return category, true
}

func (h *httpHandler) snapshotIDParam(c *gin.Context, raw string) (configs.SnapshotID, bool) {
	id, err := configs.NewSnapshotID(raw)
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return id, true
}

func (h *httpHandler) optionalSnapshotID(c *gin.Context, raw string) (configs.SnapshotID, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	return h.snapshotIDParam(c, raw)
}

func (h *httpHandler) bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		h.respondInvalid(c, "server.request.invalid_body", "request body must be valid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *httpHandler) pagination(c *gin.Context) (int, int, bool) {
	page, err := queryInt(c, "page")
	if err != nil {
		h.respondInvalid(c, "server.request.invalid_page", "page must be an integer")
		return 0, 0, false
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.respondInvalid(c, "server.request.invalid_limit", "limit must be an integer")
		return 0, 0, false
	}
	return page, limit, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func includeSecrets(c *gin.Context) bool {
	include, _ := strconv.ParseBool(c.Query("include_secrets"))
	return include
}
