package unique

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/unique-jobs/internal/kv"
)

// Default region names
const (
	DefaultReservationRegion = "unique:jobs"
	DefaultAssociationRegion = "unique:associations"
)

// Regions names the two key-value regions used by the identity store
type Regions struct {
	// Reservations maps canonical identity to the serialized payload
	Reservations string
	// Associations maps job id to canonical identity
	Associations string
}

// DefaultRegions returns the region names used when none are configured
func DefaultRegions() Regions {
	return Regions{
		Reservations: DefaultReservationRegion,
		Associations: DefaultAssociationRegion,
	}
}

// WithDefaults fills empty region names with the defaults
func (r Regions) WithDefaults() Regions {
	if r.Reservations == "" {
		r.Reservations = DefaultReservationRegion
	}
	if r.Associations == "" {
		r.Associations = DefaultAssociationRegion
	}
	return r
}

// IdentityStore keeps the reservation and association tables
type IdentityStore struct {
	store   kv.Store
	regions Regions
	logger  *slog.Logger
}

// NewIdentityStore creates an identity store over the given key-value store
func NewIdentityStore(store kv.Store, regions Regions, logger *slog.Logger) *IdentityStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityStore{
		store:   store,
		regions: regions.WithDefaults(),
		logger:  logger,
	}
}

// Regions returns the region names in use
func (s *IdentityStore) Regions() Regions {
	return s.regions
}

// Reserve claims identity for the caller. It returns false when the identity
// is already reserved.
func (s *IdentityStore) Reserve(ctx context.Context, identity, payload string) (bool, error) {
	ok, err := s.store.SetIfAbsent(ctx, s.regions.Reservations, identity, payload)
	if err != nil {
		return false, fmt.Errorf("failed to reserve identity: %w", err)
	}
	return ok, nil
}

// Associate records which identity a job reserved
func (s *IdentityStore) Associate(ctx context.Context, jobID, identity string) error {
	if err := s.store.Set(ctx, s.regions.Associations, jobID, identity); err != nil {
		return fmt.Errorf("failed to associate job with identity: %w", err)
	}
	return nil
}

// ResolveAssociation returns the identity reserved by a job
func (s *IdentityStore) ResolveAssociation(ctx context.Context, jobID string) (string, bool, error) {
	identity, found, err := s.store.Get(ctx, s.regions.Associations, jobID)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve association: %w", err)
	}
	return identity, found, nil
}

// ResolveReservation returns the serialized payload stored for identity
func (s *IdentityStore) ResolveReservation(ctx context.Context, identity string) (string, bool, error) {
	payload, found, err := s.store.Get(ctx, s.regions.Reservations, identity)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve reservation: %w", err)
	}
	return payload, found, nil
}

// Release removes a job's association and its reservation together
func (s *IdentityStore) Release(ctx context.Context, jobID, identity string) error {
	err := s.store.DeleteMany(ctx,
		kv.Key{Region: s.regions.Associations, Field: jobID},
		kv.Key{Region: s.regions.Reservations, Field: identity},
	)
	if err != nil {
		return fmt.Errorf("failed to release identity: %w", err)
	}
	return nil
}

// ClearReservation drops a reservation that no job is associated with, such
// as one left behind by a failed persist. It does not check associations.
func (s *IdentityStore) ClearReservation(ctx context.Context, identity string) error {
	err := s.store.DeleteMany(ctx, kv.Key{Region: s.regions.Reservations, Field: identity})
	if err != nil {
		return fmt.Errorf("failed to clear reservation: %w", err)
	}

	s.logger.Info("Reservation cleared",
		slog.String("identity", identity),
	)

	return nil
}
