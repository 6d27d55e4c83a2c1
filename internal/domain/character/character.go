// Package character declares the character resource.
package character

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/domain/policy"
	"textrpg-server/internal/platform/schema"
)

const Collection = "characters"

const StartingHealth = 100

// Movement parameters accepted by PATCH /characters/{id}.
const (
	MoveX = "move-x"
	MoveY = "move-y"
)

type Position struct {
	X float64 `bson:"x" json:"x"`
	Y float64 `bson:"y" json:"y"`
}

type Character struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name     string             `bson:"name" json:"name"`
	UserID   string             `bson:"userId" json:"userId"`
	Class    string             `bson:"class" json:"class"`
	Position Position           `bson:"position" json:"position"`
	Health   int                `bson:"health" json:"health"`
}

var Fields = policy.Fields{
	World: []string{"_id", "name", "class"},
	Owner: []string{"_id", "userId", "name", "class", "position"},
}

// MoveFields is the property set of a movement request.
var MoveFields = schema.Fields{MoveX, MoveY}

// Step turns a movement signal into a unit increment: positive → 1,
// negative → -1, zero → 0.
func Step(signal float64) int32 {
	switch {
	case signal > 0:
		return 1
	case signal < 0:
		return -1
	}
	return 0
}

func Schema(classes []string, singleError bool) *schema.Model {
	return schema.MustCompile("character", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":      "string",
				"minLength": 1,
				"pattern":   "^[a-zA-Z0-9]*$",
			},
			"userId": map[string]any{"type": "string"},
			"class": map[string]any{
				"type": "string",
				"enum": classes,
			},
			"position": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": map[string]any{"type": "number"},
					"y": map[string]any{"type": "number"},
				},
			},
			"health": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"name", "class"},
	}, schema.SingleError(singleError))
}
