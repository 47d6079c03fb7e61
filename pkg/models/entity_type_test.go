package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected EntityType
		ok       bool
	}{
		{name: "singular", input: "person", expected: EntityTypePerson, ok: true},
		{name: "plural", input: "people", expected: EntityTypePerson, ok: true},
		{name: "alternate plural", input: "persons", expected: EntityTypePerson, ok: true},
		{name: "submissions route", input: "submissions", expected: EntityTypeSubmission, ok: true},
		{name: "places route", input: "places", expected: EntityTypePlace, ok: true},
		{name: "cats route", input: "cats", expected: EntityTypeCat, ok: true},
		{name: "requests route", input: "requests", expected: EntityTypeRequest, ok: true},
		{name: "unknown", input: "colonies", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEntityType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPersonIsMerged(t *testing.T) {
	live := &Person{ID: "p1"}
	assert.False(t, live.IsMerged())

	empty := ""
	blank := &Person{ID: "p2", MergedIntoID: &empty}
	assert.False(t, blank.IsMerged())

	target := "p3"
	tombstone := &Person{ID: "p2", MergedIntoID: &target}
	assert.True(t, tombstone.IsMerged())
}
