package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))

	got := nullIfEmpty("value")
	if assert.NotNil(t, got) {
		assert.Equal(t, "value", *got)
	}
}

func TestJobSummaryType(t *testing.T) {
	s := JobSummary{
		ID:      "job-1",
		Company: "Acme Corp",
		Phase:   "searching",
	}

	assert.Equal(t, "Acme Corp", s.Company)
	assert.Equal(t, "searching", s.Phase)
	assert.Empty(t, s.Error)
}

func TestJobFiltersZeroValue(t *testing.T) {
	var f JobFilters
	assert.Empty(t, f.Company)
	assert.Empty(t, f.Phase)
	assert.Zero(t, f.Limit, "zero limit means the default page size")
}
