package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SnapshotFunc receives each decoded snapshot. exists is false when the document is absent.
// Returning an error stops the watch.
type SnapshotFunc[T any] func(value Document[T], exists bool) error

// WatchDocument listens to a single document and invokes fn for every remote change until ctx
// is cancelled or fn fails. Cancellation is not reported as an error.
func WatchDocument[T any](ctx context.Context, ref *firestore.DocumentRef, decode Decoder[T], fn SnapshotFunc[T]) error {
	iter := ref.Snapshots(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return nil
			}
			return WrapError(ref.Parent.ID+".watch", err)
		}
		if !snap.Exists() {
			if err := fn(Document[T]{ID: ref.ID}, false); err != nil {
				return err
			}
			continue
		}
		doc, err := decodeSnapshot(snap, decode)
		if err != nil {
			return err
		}
		if err := fn(doc, true); err != nil {
			return err
		}
	}
}
