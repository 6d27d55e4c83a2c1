package user

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"textrpg-server/internal/domain/user"
	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/docstore"
	"textrpg-server/internal/platform/mq"
	"textrpg-server/internal/platform/password"
	"textrpg-server/internal/platform/schema"
)

type Service struct {
	users      *docstore.Collection
	characters *docstore.Collection
	model      *schema.Model
	hasher     *password.Hasher
	pub        mq.Publisher
	logger     zerolog.Logger
}

func NewService(users, characters *docstore.Collection, model *schema.Model, hasher *password.Hasher, pub mq.Publisher, logger zerolog.Logger) *Service {
	return &Service{users: users, characters: characters, model: model, hasher: hasher, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]user.User, error) {
	docs, err := s.users.Find(ctx, nil, docstore.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]user.User, 0, len(docs))
	for _, d := range docs {
		var u user.User
		if err := docstore.Decode(d, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Get returns nil when no user has the id.
func (s *Service) Get(ctx context.Context, id string) (*user.User, error) {
	doc, err := s.users.FindOne(ctx, id, docstore.FindOptions{})
	if err != nil || doc == nil {
		return nil, err
	}
	var u user.User
	if err := docstore.Decode(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByEmail returns nil when no user has the email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	doc, err := s.users.FindOne(ctx, bson.M{"email": email}, docstore.FindOptions{})
	if err != nil || doc == nil {
		return nil, err
	}
	var u user.User
	if err := docstore.Decode(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create registers a user from already-filtered fields. The password is
// replaced by its hash before anything is written.
func (s *Service) Create(ctx context.Context, fields map[string]any) (*user.User, error) {
	if err := s.model.Validate(fields); err != nil {
		return nil, err
	}
	doc := docstore.Doc{}
	for k, v := range fields {
		doc[k] = v
	}
	hash, err := s.hasher.Hash(doc["password"].(string))
	if err != nil {
		return nil, err
	}
	doc["password"] = hash
	saved, err := s.users.Save(ctx, doc)
	if err != nil {
		return nil, err
	}
	var u user.User
	if err := docstore.Decode(saved, &u); err != nil {
		return nil, err
	}
	s.publish(ctx, mq.SubjectUserCreated, map[string]any{"userId": u.ID.Hex(), "alias": u.Alias})
	return &u, nil
}

// Update sets the submitted fields on the user. A submitted password is
// hashed first. It returns the stored user after the update, or nil when the
// user does not exist.
func (s *Service) Update(ctx context.Context, id string, fields map[string]any) (*user.User, error) {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	if raw, ok := set["password"]; ok {
		plain, isString := raw.(string)
		if !isString {
			return nil, apperr.Validation("user failed validation",
				apperr.FieldError{Field: "password", Message: "must be a string"})
		}
		hash, err := s.hasher.Hash(plain)
		if err != nil {
			return nil, err
		}
		set["password"] = hash
	}
	if len(set) > 0 {
		if _, err := s.users.Update(ctx, id, bson.M{"$set": set}, docstore.UpdateOptions{}); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// Delete removes the user and every character they own.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.users.Remove(ctx, id, docstore.RemoveOptions{Single: true})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	removed, err := s.characters.Remove(ctx, bson.M{"userId": id}, docstore.RemoveOptions{})
	if err != nil {
		return true, fmt.Errorf("remove characters of %s: %w", id, err)
	}
	s.publish(ctx, mq.SubjectUserDeleted, map[string]any{"userId": id, "characters": removed})
	return true, nil
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if err := mq.PublishJSON(ctx, s.pub, subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}
