package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func TestReleaseKinds(t *testing.T) {
	// Absent enabled flags mean enabled, but an empty messy item list still
	// produces nothing to package.
	cat := &catalog.Catalog{}
	assert.Equal(t, []model.ReleaseKind{model.ReleaseKindOpenData}, releaseKinds(cat))

	cat.Messy.Items = []catalog.MessyItem{{Slug: "census"}}
	assert.Equal(t, []model.ReleaseKind{model.ReleaseKindOpenData, model.ReleaseKindMessy}, releaseKinds(cat))

	cat.WorldBank.Enabled = boolPtr(false)
	cat.FAOSTAT.Enabled = boolPtr(false)
	assert.Equal(t, []model.ReleaseKind{model.ReleaseKindMessy}, releaseKinds(cat))
}

func TestParseReleaseKinds(t *testing.T) {
	cat := &catalog.Catalog{
		Messy: catalog.Messy{Items: []catalog.MessyItem{{Slug: "census"}}},
	}

	kinds, err := parseReleaseKinds("all", cat)
	require.NoError(t, err)
	assert.Len(t, kinds, 2)

	kinds, err = parseReleaseKinds("open-data", cat)
	require.NoError(t, err)
	assert.Equal(t, []model.ReleaseKind{model.ReleaseKindOpenData}, kinds)

	kinds, err = parseReleaseKinds("messy", cat)
	require.NoError(t, err)
	assert.Equal(t, []model.ReleaseKind{model.ReleaseKindMessy}, kinds)

	_, err = parseReleaseKinds("nightly", cat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown release kind")
}
