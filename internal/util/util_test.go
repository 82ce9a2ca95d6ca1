package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", []string{}},
		{"whitespace only", "  \t ", []string{}},
		{"single term", "Vertigo", []string{"vertigo"}},
		{"commas removed", "Eastwood, Clint", []string{"eastwood", "clint"}},
		{"comma inside word", "a,b", []string{"ab"}},
		{"duplicates dropped", "bay Bay BAY bridge", []string{"bay", "bridge"}},
		{"surrounding space", "  golden   gate ", []string{"golden", "gate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeQuery(tt.input))
		})
	}
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "search:gate golden", CacheKey("search", []string{"golden", "gate"}))
	assert.Equal(t, CacheKey("search", []string{"gate", "golden"}), CacheKey("search", []string{"golden", "gate"}))
	assert.Equal(t, "search:", CacheKey("search", nil))
}

func TestJoinNonEmpty(t *testing.T) {
	tests := []struct {
		name     string
		parts    []string
		expected string
	}{
		{"none", nil, ""},
		{"all empty", []string{"", ""}, ""},
		{"skips empty", []string{"The Dead Pool", "", "Buddy Van Horn"}, "The Dead Pool, Buddy Van Horn"},
		{"leading empty", []string{"", "Vertigo"}, "Vertigo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinNonEmpty(", ", tt.parts...))
		})
	}
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold("Golden Gate Bridge", "gate"))
	assert.True(t, ContainsFold("anything", ""))
	assert.False(t, ContainsFold("Alcatraz", "bridge"))
}
