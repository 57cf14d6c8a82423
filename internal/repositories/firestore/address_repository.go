package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sfykart/api/internal/domain"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider, now: time.Now}, nil
}

// List returns all addresses for the user, default first and then most recently touched.
// Addresses saved by older app builds carry no timestamps, so the subcollection is read whole
// and ordered here instead of with a query that would drop them.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.Query(ctx, "addresses.list", coll.Query, pfirestore.StructDecoder[addressDocument]())
	if err != nil {
		return nil, err
	}
	results := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		results = append(results, doc.Data.toDomain(doc.ID))
	}
	sortAddresses(results)
	return results, nil
}

// Get returns a single address.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	doc, err := pfirestore.Get(ctx, coll.Doc(id), pfirestore.StructDecoder[addressDocument]())
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Insert stores a new address under a generated id.
func (r *AddressRepository) Insert(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	ref := coll.NewDoc()
	doc := newAddressDocument(addr, r.now().UTC())
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.insert", err)
	}
	return doc.toDomain(ref.ID), nil
}

// Update overwrites the editable fields of an existing address. The default flag is preserved.
func (r *AddressRepository) Update(ctx context.Context, userID string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addr.ID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current addressDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode address %s: %w", id, err)
		}
		next := newAddressDocument(addr, r.now().UTC())
		next.IsDefault = current.IsDefault
		if !current.CreatedAt.IsZero() {
			next.CreatedAt = current.CreatedAt
		}
		if err := tx.Set(ref, next); err != nil {
			return err
		}
		saved = next.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.update", err)
	}
	return saved, nil
}

// Delete removes the address document. Deleting a missing address reports not found.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault clears every other default and marks addressID as the default in one transaction.
func (r *AddressRepository) SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := coll.Doc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode address %s: %w", id, err)
		}
		others, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		// All reads precede writes inside a Firestore transaction.
		now := r.now().UTC()
		for _, other := range others {
			if other.Ref.ID == id {
				continue
			}
			if err := tx.Update(other.Ref, []firestore.Update{
				{Path: "isDefault", Value: false},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "isDefault", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		doc.IsDefault = true
		doc.UpdatedAt = now
		saved = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return saved, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	return r.provider.Collection(ctx, fmt.Sprintf(addressCollectionPattern, uid))
}

func sortAddresses(addrs []domain.Address) {
	sort.SliceStable(addrs, func(i, j int) bool {
		a, b := addrs[i], addrs[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		ta, tb := lastTouched(a), lastTouched(b)
		if ta.IsZero() != tb.IsZero() {
			return !ta.IsZero()
		}
		return ta.After(tb)
	})
}

func lastTouched(addr domain.Address) time.Time {
	if !addr.UpdatedAt.IsZero() {
		return addr.UpdatedAt
	}
	return addr.CreatedAt
}

type addressDocument struct {
	Name      string    `firestore:"name"`
	Mobile    string    `firestore:"mobile"`
	Street    string    `firestore:"street"`
	Post      string    `firestore:"post,omitempty"`
	District  string    `firestore:"district"`
	State     string    `firestore:"state"`
	Pincode   string    `firestore:"pincode"`
	IsDefault bool      `firestore:"isDefault"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newAddressDocument(addr domain.Address, now time.Time) addressDocument {
	created := addr.CreatedAt
	if created.IsZero() {
		created = now
	}
	return addressDocument{
		Name:      addr.Name,
		Mobile:    addr.Mobile,
		Street:    addr.Street,
		Post:      addr.Post,
		District:  addr.District,
		State:     addr.State,
		Pincode:   addr.Pincode,
		IsDefault: addr.IsDefault,
		CreatedAt: created.UTC(),
		UpdatedAt: now,
	}
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:        id,
		Name:      d.Name,
		Mobile:    d.Mobile,
		Street:    d.Street,
		Post:      d.Post,
		District:  d.District,
		State:     d.State,
		Pincode:   d.Pincode,
		IsDefault: d.IsDefault,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AddressRepository = (*AddressRepository)(nil)
