package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/gin-gonic/gin"
)

type auditEntryPayload struct {
	AuditID    string              `json:"audit_id"`
	Category   string              `json:"category"`
	SnapshotID string              `json:"snapshot_id,omitempty"`
	Action     configs.AuditAction `json:"action"`
	ChangeType string              `json:"change_type,omitempty"`
	Actor      string              `json:"actor"`
	OccurredAt time.Time           `json:"occurred_at"`
	Detail     string              `json:"detail,omitempty"`
}

type auditResponsePayload struct {
	Items []auditEntryPayload `json:"items"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	format, err := configs.ParseExportFormat(c.Query("format"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	category, ok := h.optionalCategory(c, c.Query("category"))
	if !ok {
		return
	}
	document, err := h.service.Export(c.Request.Context(), configs.ExportRequest{
		Category:       category,
		IncludeSecrets: includeSecrets(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	body, err := document.Encode(format)
	if err != nil {
		h.respondError(c, err)
		return
	}
	scope := "all"
	if category != "" {
		scope = category.String()
	}
	filename := fmt.Sprintf("configledger-%s-%s.%s", scope, document.ExportedAt.Format("20060102T150405Z"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, format.ContentType(), body)
}

func (h *httpHandler) handleAudit(c *gin.Context) {
	category, ok := h.optionalCategory(c, c.Query("category"))
	if !ok {
		return
	}
	page, limit, ok := h.pagination(c)
	if !ok {
		return
	}
	result, err := h.service.Audit(c.Request.Context(), configs.AuditRequest{Category: category, Page: page, Limit: limit})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := auditResponsePayload{
		Items: make([]auditEntryPayload, 0, len(result.Items)),
		Total: result.Total,
		Page:  result.Page,
		Limit: result.Limit,
	}
	for _, record := range result.Items {
		response.Items = append(response.Items, auditEntryPayload{
			AuditID:    record.AuditID,
			Category:   record.Category,
			SnapshotID: record.SnapshotID,
			Action:     record.Action,
			ChangeType: record.ChangeType,
			Actor:      record.Actor,
			OccurredAt: time.UnixMilli(record.OccurredAtMillis).UTC(),
			Detail:     record.Detail,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) optionalCategory(c *gin.Context, raw string) (configs.Category, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	category, err := h.service.Registry().Resolve(raw)
	if err != nil {
		h.respondError(c, err)
		return "", false
	}
	return category, true
}
