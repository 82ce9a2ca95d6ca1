package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"Location", &Location{}, "locations"},
		{"Click", &Click{}, "clicks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestSearchColumns(t *testing.T) {
	assert.Contains(t, SearchColumns, "title")
	assert.Contains(t, SearchColumns, "release_year")
	assert.NotContains(t, SearchColumns, "locations", "location text is not searched")
}
