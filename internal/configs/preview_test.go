package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretMaskerMatchesCaseInsensitively(t *testing.T) {
	masker := NewSecretMasker(nil)
	assert.True(t, masker.IsSecret("password"))
	assert.True(t, masker.IsSecret("SMTP_Password"))
	assert.True(t, masker.IsSecret("jwt_secret"))
	assert.False(t, masker.IsSecret("host"))

	custom := NewSecretMasker([]string{"*token*"})
	assert.True(t, custom.IsSecret("API_TOKEN"))
	assert.False(t, custom.IsSecret("password"))
}

func TestPreviewMasksSecretsButDiffKeepsRealValues(t *testing.T) {
	registry, err := NewRegistry(nil)
	require.NoError(t, err)
	previewer := NewPreviewer(registry, NewSecretMasker(nil))

	before := Snapshot{ID: "a", Category: CategorySMTP, Fields: mustFields(t, map[string]any{
		"host":     "smtp.gmail.com",
		"password": "old-secret",
	})}
	after := Snapshot{ID: "b", Category: CategorySMTP, Fields: mustFields(t, map[string]any{
		"host":     "smtp.office365.com",
		"password": "new-secret",
		"use_tls":  true,
	})}
	diff, err := ComputeDiff(before, after)
	require.NoError(t, err)

	document, err := previewer.Preview(diff)
	require.NoError(t, err)
	require.Len(t, document.Entries, 3)

	host := document.Entries[0]
	assert.Equal(t, "Server address", host.DisplayName)
	assert.Equal(t, "smtp.gmail.com", *host.OldValue)
	assert.Equal(t, "smtp.office365.com", *host.NewValue)

	password := document.Entries[1]
	assert.True(t, password.Secret)
	assert.Equal(t, MaskedValue, *password.OldValue)
	assert.Equal(t, MaskedValue, *password.NewValue)
	assert.Equal(t, "new-secret", diff.Entries[1].NewValue.Text())

	tls := document.Entries[2]
	assert.Equal(t, ChangeAdded, tls.ChangeKind)
	assert.Nil(t, tls.OldValue)
	assert.Equal(t, "true", *tls.NewValue)

	assert.Equal(t, PreviewSummary{Added: 1, Modified: 2, Total: 3}, document.Summary)
}

func TestPreviewOfEmptyDiffIsNoChange(t *testing.T) {
	previewer := NewPreviewer(nil, NewSecretMasker(nil))
	_, err := previewer.Preview(Diff{Category: CategorySMTP})
	assert.ErrorIs(t, err, ErrNoChange)

	document := previewer.Render(Diff{Category: CategorySMTP})
	assert.Empty(t, document.Entries)
	assert.Equal(t, 0, document.Summary.Total)
}
