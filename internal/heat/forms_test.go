package heat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatbot/internal/config"
)

func TestFormLocatorsFromConfig(t *testing.T) {
	def := DefaultFormLocators()

	got, err := FormLocatorsFromConfig(config.TargetConfig{})
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = FormLocatorsFromConfig(config.TargetConfig{
		SearchLocators: []config.LocatorConfig{{Kind: "id", Value: "CaseSearch"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Locator{ID("CaseSearch")}, got.Search)
	assert.Equal(t, def.Username, got.Username)
	assert.Equal(t, def.Results, got.Results)

	_, err = FormLocatorsFromConfig(config.TargetConfig{
		PasswordLocators: []config.LocatorConfig{{Kind: "xpath", Value: "//input"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.password_locators")
}
