// Package user declares the user resource.
package user

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/domain/policy"
	"textrpg-server/internal/platform/schema"
)

const Collection = "users"

type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Alias      string             `bson:"alias" json:"alias"`
	Email      string             `bson:"email" json:"email"`
	Password   string             `bson:"password,omitempty" json:"-"`
	Characters []string           `bson:"characters,omitempty" json:"characters,omitempty"`
}

var Fields = policy.Fields{
	World: []string{"alias", "_id"},
	Owner: []string{"alias", "email", "_id"},
}

// emailPattern accepts local@domain with a dotted domain and an alphabetic
// top-level label.
const emailPattern = `^[^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*@([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}$`

func Schema(singleError bool) *schema.Model {
	return schema.MustCompile("user", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"alias": map[string]any{
				"type":      "string",
				"minLength": 5,
				"pattern":   "^[a-zA-Z0-9_]*$",
			},
			"email": map[string]any{
				"type":      "string",
				"minLength": 3,
				"pattern":   emailPattern,
			},
			"password": map[string]any{"type": "string"},
		},
		"required": []string{"alias", "email", "password"},
	}, schema.SingleError(singleError))
}
