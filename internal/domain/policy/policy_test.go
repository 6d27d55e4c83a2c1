package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadList(t *testing.T) {
	withOwner := Fields{World: []string{"_id", "name"}, Owner: []string{"_id", "name", "position"}}
	assert.Equal(t, []string{"_id", "name"}, withOwner.ReadList(false))
	assert.Equal(t, []string{"_id", "name", "position"}, withOwner.ReadList(true))

	worldOnly := Fields{World: []string{"_id"}}
	assert.Equal(t, []string{"_id"}, worldOnly.ReadList(true))
}

func TestProject(t *testing.T) {
	doc := map[string]any{"_id": "c1", "name": "orc01", "position": map[string]any{"x": 1}}

	got := Project(doc, []string{"_id", "name", "missing"})
	assert.Equal(t, map[string]any{"_id": "c1", "name": "orc01"}, got)

	for k, v := range got {
		assert.Equal(t, doc[k], v)
	}
	assert.Equal(t, doc, Project(doc, nil))
	assert.Nil(t, Project(nil, []string{"_id"}))
}
