package character

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/domain/character"
	"textrpg-server/internal/platform/docstore"
	"textrpg-server/internal/platform/mq"
)

type Service struct {
	characters *docstore.Collection
	pub        mq.Publisher
	logger     zerolog.Logger
}

func NewService(characters *docstore.Collection, pub mq.Publisher, logger zerolog.Logger) *Service {
	return &Service{characters: characters, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]character.Character, error) {
	docs, err := s.characters.Find(ctx, nil, docstore.FindOptions{})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

// IDsByUser returns the hex ids of the characters owned by userID.
func (s *Service) IDsByUser(ctx context.Context, userID string) ([]string, error) {
	docs, err := s.characters.Find(ctx, bson.M{"userId": userID}, docstore.FindOptions{
		Projection: bson.M{docstore.IDField: 1},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, hexID(d[docstore.IDField]))
	}
	return ids, nil
}

// Get returns nil when no character has the id.
func (s *Service) Get(ctx context.Context, id string) (*character.Character, error) {
	doc, err := s.characters.FindOne(ctx, id, docstore.FindOptions{})
	if err != nil {
		return nil, err
	}
	return decode(doc)
}

// Create stores a new character for userID. The owner, starting position and
// health are always set here, whatever the caller submitted.
func (s *Service) Create(ctx context.Context, userID string, fields map[string]any) (*character.Character, error) {
	doc := docstore.Doc{}
	for k, v := range fields {
		doc[k] = v
	}
	doc["userId"] = userID
	doc["position"] = bson.M{"x": 0, "y": 0}
	doc["health"] = character.StartingHealth

	saved, err := s.characters.Save(ctx, doc)
	if err != nil {
		return nil, err
	}
	c, err := decode(saved)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, mq.SubjectCharacterCreated, map[string]any{"characterId": c.ID.Hex(), "userId": userID})
	return c, nil
}

// Move shifts the character by dx and dy (each -1, 0 or 1) in a single
// atomic update and returns the moved character. Without movement the
// current character is returned unchanged.
func (s *Service) Move(ctx context.Context, id string, dx, dy int32) (*character.Character, error) {
	inc := bson.M{}
	if dx != 0 {
		inc["position.x"] = dx
	}
	if dy != 0 {
		inc["position.y"] = dy
	}
	if len(inc) == 0 {
		return s.Get(ctx, id)
	}
	doc, err := s.characters.FindAndModify(ctx, id, nil, bson.M{"$inc": inc}, docstore.ModifyOptions{ReturnNew: true})
	if err != nil {
		return nil, err
	}
	c, err := decode(doc)
	if err != nil || c == nil {
		return c, err
	}
	s.publish(ctx, mq.SubjectCharacterMoved, map[string]any{"characterId": id, "position": c.Position})
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.characters.Remove(ctx, id, docstore.RemoveOptions{Single: true})
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.publish(ctx, mq.SubjectCharacterDeleted, map[string]any{"characterId": id})
	}
	return n > 0, nil
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if err := mq.PublishJSON(ctx, s.pub, subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

func decode(doc docstore.Doc) (*character.Character, error) {
	if doc == nil {
		return nil, nil
	}
	var c character.Character
	if err := docstore.Decode(doc, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeAll(docs []docstore.Doc) ([]character.Character, error) {
	out := make([]character.Character, 0, len(docs))
	for _, d := range docs {
		c, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func hexID(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}
