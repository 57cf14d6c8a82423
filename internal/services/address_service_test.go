package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
)

func newTestAddressService(t *testing.T, repo *memoryAddressRepository) AddressService {
	t.Helper()
	svc, err := NewAddressService(AddressServiceDeps{
		Addresses: repo,
		Clock:     func() time.Time { return orderTestNow },
	})
	if err != nil {
		t.Fatalf("NewAddressService: %v", err)
	}
	return svc
}

func validAddress(name string) domain.Address {
	return domain.Address{
		Name:     name,
		Mobile:   "9876543210",
		Street:   "12 MG Road",
		District: "Central Delhi",
		State:    "Delhi",
		Pincode:  "110001",
	}
}

func TestAddressServiceAddValidates(t *testing.T) {
	svc := newTestAddressService(t, newMemoryAddressRepository())
	ctx := context.Background()

	bad := validAddress("Asha")
	bad.District = ""
	bad.Pincode = "11001"
	_, err := svc.Add(ctx, "u1", bad)
	if !errors.Is(err, ErrAddressInvalidInput) {
		t.Fatalf("expected ErrAddressInvalidInput, got %v", err)
	}
	if got := err.Error(); got != "address: invalid input: district, pincode" {
		t.Fatalf("unexpected message %q", got)
	}

	addr := validAddress("Asha")
	addr.IsDefault = true
	saved, err := svc.Add(ctx, "u1", addr)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if saved.ID == "" || saved.IsDefault {
		t.Fatalf("expected new non-default address, got %#v", saved)
	}
}

func TestAddressServiceSetDefaultLeavesSingleDefault(t *testing.T) {
	repo := newMemoryAddressRepository()
	svc := newTestAddressService(t, repo)
	ctx := context.Background()

	first, _ := svc.Add(ctx, "u1", validAddress("Home"))
	second, _ := svc.Add(ctx, "u1", validAddress("Office"))

	if _, err := svc.SetDefault(ctx, "u1", first.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	book, err := svc.SetDefault(ctx, "u1", second.ID)
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	defaults := 0
	for _, addr := range book {
		if addr.IsDefault {
			defaults++
			if addr.ID != second.ID {
				t.Fatalf("unexpected default %q", addr.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	if err := svc.Delete(ctx, "u1", second.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	book, _ = svc.List(ctx, "u1")
	for _, addr := range book {
		if addr.IsDefault {
			t.Fatalf("expected no default after deleting it, got %#v", addr)
		}
	}
	if _, err := svc.SetDefault(ctx, "u1", "missing"); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestAddressServiceUpdatePatch(t *testing.T) {
	svc := newTestAddressService(t, newMemoryAddressRepository())
	ctx := context.Background()
	saved, _ := svc.Add(ctx, "u1", validAddress("Home"))

	street := "99 New Rd"
	pincode := "４００００１"
	updated, err := svc.Update(ctx, "u1", saved.ID, AddressPatch{Street: &street, Pincode: &pincode})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Street != street || updated.Pincode != "400001" || updated.Name != "Home" {
		t.Fatalf("unexpected patched address %#v", updated)
	}

	empty := ""
	if _, err := svc.Update(ctx, "u1", saved.ID, AddressPatch{Name: &empty}); !errors.Is(err, ErrAddressInvalidInput) {
		t.Fatalf("expected ErrAddressInvalidInput, got %v", err)
	}
}

func TestNormalisePincode(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"110001":   {"110001", true},
		" 560 001": {"560001", true},
		"５６０００１":   {"560001", true},
		"11000A":   {"11000A", false},
		"1100011":  {"1100011", false},
	}
	for in, tc := range cases {
		got, ok := NormalisePincode(in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalisePincode(%q) = %q, %v", in, got, ok)
		}
	}
}
