package configs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ExportFormatVersion labels the layout of ExportDocument.
const ExportFormatVersion = "1.0"

// ExportFormat selects the encoding of an export.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// ParseExportFormat accepts json, yaml or yml; empty input selects json.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return ExportJSON, nil
	case "yaml", "yml":
		return ExportYAML, nil
	default:
		return "", validationError("unsupported export format %q", raw)
	}
}

// ContentType returns the media type of the encoding.
func (f ExportFormat) ContentType() string {
	if f == ExportYAML {
		return "application/yaml"
	}
	return "application/json"
}

// ExportRequest selects the history to export. An empty Category exports
// every category.
type ExportRequest struct {
	Category       Category
	IncludeSecrets bool
}

// ExportDocument is a portable rendering of history, newest first.
type ExportDocument struct {
	ExportedAt    time.Time      `json:"exported_at" yaml:"exported_at"`
	FormatVersion string         `json:"format_version" yaml:"format_version"`
	Category      Category       `json:"category,omitempty" yaml:"category,omitempty"`
	TotalVersions int            `json:"total_versions" yaml:"total_versions"`
	History       []SnapshotView `json:"history" yaml:"history"`
}

// Export renders history with secrets masked unless explicitly included.
func (s *Service) Export(ctx context.Context, request ExportRequest) (document ExportDocument, err error) {
	defer s.observe(opExport, s.clock(), &err)
	if request.Category != "" {
		if err := s.requireCategory(request.Category); err != nil {
			return ExportDocument{}, s.fail(opExport, "unknown_category", err)
		}
	}
	snapshots, _, err := s.store.List(ctx, HistoryQuery{Category: request.Category})
	if err != nil {
		return ExportDocument{}, s.fail(opExport, "list_failed", err, zap.String("category", request.Category.String()))
	}
	history := s.masker.Views(snapshots, request.IncludeSecrets)
	return ExportDocument{
		ExportedAt:    s.clock().UTC(),
		FormatVersion: ExportFormatVersion,
		Category:      request.Category,
		TotalVersions: len(history),
		History:       history,
	}, nil
}

// Encode serializes the document in the given format.
func (d ExportDocument) Encode(format ExportFormat) ([]byte, error) {
	switch format {
	case ExportYAML:
		return yaml.Marshal(d)
	case ExportJSON, "":
		return json.MarshalIndent(d, "", "  ")
	default:
		return nil, validationError("unsupported export format %q", format)
	}
}
