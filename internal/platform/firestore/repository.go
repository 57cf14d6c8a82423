package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded Firestore document with its metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates a typed value from a snapshot. Repositories use it as their single
// mapping point from stored shape to domain model.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// StructDecoder decodes the snapshot with Firestore's native struct mapping.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}

// MapDecoder returns the raw field map of a document.
func MapDecoder() Decoder[map[string]any] {
	return func(snap *firestore.DocumentSnapshot) (map[string]any, error) {
		data := snap.Data()
		if data == nil {
			data = map[string]any{}
		}
		return data, nil
	}
}

// Collection resolves a slash separated collection path such as "users/u1/addresses".
func (p *Provider) Collection(ctx context.Context, path string) (*firestore.CollectionRef, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, WrapError("collection", errors.New("firestore: collection path is required"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Collection(path)
	if coll == nil {
		return nil, WrapError("collection", fmt.Errorf("firestore: invalid collection path %q", path))
	}
	return coll, nil
}

// Doc resolves a slash separated document path such as "admin/blockedCodPincodes".
func (p *Provider) Doc(ctx context.Context, path string) (*firestore.DocumentRef, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, WrapError("doc", errors.New("firestore: document path is required"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	ref := client.Doc(path)
	if ref == nil {
		return nil, WrapError("doc", fmt.Errorf("firestore: invalid document path %q", path))
	}
	return ref, nil
}

// Get fetches and decodes a single document.
func Get[T any](ctx context.Context, ref *firestore.DocumentRef, decode Decoder[T]) (Document[T], error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(ref.Parent.ID+".get", err)
	}
	return decodeSnapshot(snap, decode)
}

// Query runs q and decodes every result in order.
func Query[T any](ctx context.Context, op string, q firestore.Query, decode Decoder[T]) ([]Document[T], error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		doc, err := decodeSnapshot(snap, decode)
		if err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
		}
		docs = append(docs, doc)
	}
}

func decodeSnapshot[T any](snap *firestore.DocumentSnapshot, decode Decoder[T]) (Document[T], error) {
	value, err := decode(snap)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       value,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}
