package docstore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Decode copies doc into the struct pointed to by v using its bson tags.
func Decode(doc Doc, v any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Encode converts a bson-tagged struct into a Doc.
func Encode(v any) (Doc, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Doc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	out, _ := CloneValue(doc).(Doc)
	return out, nil
}
