package configs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExportMasksSecretsUnlessIncluded(t *testing.T) {
	fixture := newServiceFixture(t, NewMemoryStore())
	ctx := context.Background()
	actor := mustActor(t, "admin@example.com")
	_, err := fixture.service.Update(ctx, actor, UpdateRequest{
		Category: CategorySMTP,
		Fields:   smtpFields(t, "smtp.gmail.com", 587, true),
	})
	require.NoError(t, err)
	seedDatabaseHistory(t, fixture, 2)

	masked, err := fixture.service.Export(ctx, ExportRequest{Category: CategorySMTP})
	require.NoError(t, err)
	assert.Equal(t, ExportFormatVersion, masked.FormatVersion)
	assert.Equal(t, 1, masked.TotalVersions)
	assert.Equal(t, MaskedValue, masked.History[0].Fields["password"])
	assert.Equal(t, "smtp.gmail.com", masked.History[0].Fields["host"])

	revealed, err := fixture.service.Export(ctx, ExportRequest{Category: CategorySMTP, IncludeSecrets: true})
	require.NoError(t, err)
	assert.Equal(t, "app-password-1", revealed.History[0].Fields["password"])

	everything, err := fixture.service.Export(ctx, ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, everything.TotalVersions)
}

func TestExportEncodesJSONAndYAML(t *testing.T) {
	fixture := newServiceFixture(t, NewMemoryStore())
	ctx := context.Background()
	history := seedDatabaseHistory(t, fixture, 2)

	document, err := fixture.service.Export(ctx, ExportRequest{Category: CategoryDatabase})
	require.NoError(t, err)

	encodedJSON, err := document.Encode(ExportJSON)
	require.NoError(t, err)
	var fromJSON struct {
		FormatVersion string `json:"format_version"`
		TotalVersions int    `json:"total_versions"`
		History       []struct {
			ID     string         `json:"id"`
			Fields map[string]any `json:"fields"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(encodedJSON, &fromJSON))
	assert.Equal(t, "1.0", fromJSON.FormatVersion)
	require.Len(t, fromJSON.History, 2)
	assert.Equal(t, history[1].ID.String(), fromJSON.History[0].ID)
	assert.EqualValues(t, 2, fromJSON.History[0].Fields["max_connections"])

	encodedYAML, err := document.Encode(ExportYAML)
	require.NoError(t, err)
	var fromYAML ExportDocument
	require.NoError(t, yaml.Unmarshal(encodedYAML, &fromYAML))
	assert.Equal(t, document.TotalVersions, fromYAML.TotalVersions)
	require.Len(t, fromYAML.History, 2)
	assert.Equal(t, history[0].ID, fromYAML.History[1].ID)
	assert.Equal(t, "postgres://db.internal:5432/app", fromYAML.History[1].Fields["url"])
	assert.Equal(t, 1, fromYAML.History[1].Fields["max_connections"])
	assert.True(t, document.ExportedAt.Equal(fromYAML.ExportedAt))
}

func TestParseExportFormat(t *testing.T) {
	format, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportJSON, format)

	format, err = ParseExportFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, ExportYAML, format)
	assert.Equal(t, "application/yaml", format.ContentType())

	_, err = ParseExportFormat("xml")
	assert.ErrorIs(t, err, ErrValidation)
}
