package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const blockedCODDocPath = "admin/blockedCodPincodes"

// CODPolicyRepository reads the admin-maintained map of pincodes where cash on delivery is
// disabled. The document holds {"pincodes": {"273212": true, ...}}.
type CODPolicyRepository struct {
	provider *pfirestore.Provider
}

// NewCODPolicyRepository constructs a Firestore-backed COD policy repository.
func NewCODPolicyRepository(provider *pfirestore.Provider) (*CODPolicyRepository, error) {
	if provider == nil {
		return nil, errors.New("cod policy repository requires firestore provider")
	}
	return &CODPolicyRepository{provider: provider}, nil
}

// IsCODBlocked reports whether pincode is explicitly blocked. A missing policy document blocks
// nothing.
func (r *CODPolicyRepository) IsCODBlocked(ctx context.Context, pincode string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("cod policy repository not initialised")
	}
	pincode = strings.TrimSpace(pincode)
	if pincode == "" {
		return false, nil
	}
	ref, err := r.provider.Doc(ctx, blockedCODDocPath)
	if err != nil {
		return false, err
	}
	doc, err := pfirestore.Get(ctx, ref, pfirestore.MapDecoder())
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return false, nil
		}
		return false, err
	}
	return blockedIn(doc.Data, pincode), nil
}

func blockedIn(data map[string]any, pincode string) bool {
	pins, ok := data["pincodes"].(map[string]any)
	if !ok {
		return false
	}
	blocked, _ := pins[pincode].(bool)
	return blocked
}

// Ensure interface compliance.
var _ repositories.CODPolicyRepository = (*CODPolicyRepository)(nil)
