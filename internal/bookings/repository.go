package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
)

type Repository interface {
	// Create stores a new booking together with its first transitions.
	Create(ctx context.Context, booking *Booking, history ...Transition) error
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByIdempotencyKey(ctx context.Context, guestID, key string) (*Booking, error)
	// Save writes the booking and appends history in one transaction.
	Save(ctx context.Context, booking *Booking, history ...Transition) error
	ListTransitions(ctx context.Context, bookingID uuid.UUID) ([]Transition, error)
	ListByGuest(ctx context.Context, guestID string, query BookingListQuery) ([]Booking, int64, error)

	// CreateCancellationRequest fails with ErrConflict when the booking
	// already has a pending request.
	CreateCancellationRequest(ctx context.Context, req *CancellationRequest) error
	GetCancellationRequest(ctx context.Context, id uuid.UUID) (*CancellationRequest, error)
	// ResolveCancellationRequest stores a review only if the request is
	// still pending, and fails with ErrInvalidTransition otherwise.
	ResolveCancellationRequest(ctx context.Context, req *CancellationRequest) error
	ListCancellationRequests(ctx context.Context, query CancellationRequestQuery) ([]CancellationRequest, int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, booking *Booking, history ...Transition) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(booking).Error; err != nil {
			return err
		}
		if len(history) > 0 {
			return tx.Create(&history).Error
		}
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s duplicates an existing reference or idempotency key", apperrors.ErrConflict, booking.Reference)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var booking Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: booking %s", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) GetByIdempotencyKey(ctx context.Context, guestID, key string) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).
		Where("guest_id = ? AND idempotency_key = ?", guestID, key).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no booking for key %s", apperrors.ErrNotFound, key)
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) Save(ctx context.Context, booking *Booking, history ...Transition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(booking).Error; err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if len(history) > 0 {
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("failed to append booking history: %w", err)
			}
		}
		return nil
	})
}

func (r *repository) ListTransitions(ctx context.Context, bookingID uuid.UUID) ([]Transition, error) {
	var out []Transition
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("at ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) ListByGuest(ctx context.Context, guestID string, query BookingListQuery) ([]Booking, int64, error) {
	var bookings []Booking
	var total int64

	page, limit := query.normalized()
	db := r.db.WithContext(ctx).Model(&Booking{}).Where("guest_id = ?", guestID)
	if query.State != "" {
		db = db.Where("state = ?", query.State)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

func (r *repository) CreateCancellationRequest(ctx context.Context, req *CancellationRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s already has a pending cancellation request", apperrors.ErrConflict, req.BookingID)
		}
		return fmt.Errorf("failed to create cancellation request: %w", err)
	}
	return nil
}

func (r *repository) GetCancellationRequest(ctx context.Context, id uuid.UUID) (*CancellationRequest, error) {
	var req CancellationRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: cancellation request %s", apperrors.ErrNotFound, id)
		}
		return nil, err
	}
	return &req, nil
}

func (r *repository) ResolveCancellationRequest(ctx context.Context, req *CancellationRequest) error {
	res := r.db.WithContext(ctx).Model(req).
		Where("status = ?", CancellationPending).
		Select("status", "reviewed_by", "review_note", "refund_amount", "reviewed_at").
		Updates(req)
	if res.Error != nil {
		return fmt.Errorf("failed to update cancellation request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: cancellation request %s was already reviewed", apperrors.ErrInvalidTransition, req.ID)
	}
	return nil
}

func (r *repository) ListCancellationRequests(ctx context.Context, query CancellationRequestQuery) ([]CancellationRequest, int64, error) {
	var out []CancellationRequest
	var total int64

	page, limit := query.normalized()
	db := r.db.WithContext(ctx).Model(&CancellationRequest{})
	if query.GuestID != "" {
		db = db.Where("guest_id = ?", query.GuestID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type memoryRepository struct {
	mu           sync.RWMutex
	bookings     map[uuid.UUID]Booking
	transitions  map[uuid.UUID][]Transition
	cancellation map[uuid.UUID]CancellationRequest
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		bookings:     make(map[uuid.UUID]Booking),
		transitions:  make(map[uuid.UUID][]Transition),
		cancellation: make(map[uuid.UUID]CancellationRequest),
	}
}

func (r *memoryRepository) Create(_ context.Context, booking *Booking, history ...Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Reference == booking.Reference {
			return fmt.Errorf("%w: reference %s exists", apperrors.ErrConflict, booking.Reference)
		}
		if booking.IdempotencyKey != nil && b.IdempotencyKey != nil &&
			b.GuestID == booking.GuestID && *b.IdempotencyKey == *booking.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key %s already used", apperrors.ErrConflict, *booking.IdempotencyKey)
		}
	}
	r.bookings[booking.ID] = cloneBooking(*booking)
	r.transitions[booking.ID] = append(r.transitions[booking.ID], history...)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %s", apperrors.ErrNotFound, id)
	}
	b = cloneBooking(b)
	return &b, nil
}

func (r *memoryRepository) GetByIdempotencyKey(_ context.Context, guestID, key string) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bookings {
		if b.GuestID == guestID && b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			b = cloneBooking(b)
			return &b, nil
		}
	}
	return nil, fmt.Errorf("%w: no booking for key %s", apperrors.ErrNotFound, key)
}

func (r *memoryRepository) Save(_ context.Context, booking *Booking, history ...Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[booking.ID]; !ok {
		return fmt.Errorf("%w: booking %s", apperrors.ErrNotFound, booking.ID)
	}
	r.bookings[booking.ID] = cloneBooking(*booking)
	r.transitions[booking.ID] = append(r.transitions[booking.ID], history...)
	return nil
}

func (r *memoryRepository) ListTransitions(_ context.Context, bookingID uuid.UUID) ([]Transition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transition, len(r.transitions[bookingID]))
	copy(out, r.transitions[bookingID])
	return out, nil
}

func (r *memoryRepository) ListByGuest(_ context.Context, guestID string, query BookingListQuery) ([]Booking, int64, error) {
	r.mu.RLock()
	var all []Booking
	for _, b := range r.bookings {
		if b.GuestID != guestID {
			continue
		}
		if query.State != "" && b.State != State(query.State) {
			continue
		}
		all = append(all, cloneBooking(b))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	page, limit := query.normalized()
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []Booking{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *memoryRepository) CreateCancellationRequest(_ context.Context, req *CancellationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cancellation {
		if existing.BookingID == req.BookingID && existing.Status == CancellationPending {
			return fmt.Errorf("%w: booking %s already has a pending cancellation request", apperrors.ErrConflict, req.BookingID)
		}
	}
	r.cancellation[req.ID] = *req
	return nil
}

func (r *memoryRepository) GetCancellationRequest(_ context.Context, id uuid.UUID) (*CancellationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.cancellation[id]
	if !ok {
		return nil, fmt.Errorf("%w: cancellation request %s", apperrors.ErrNotFound, id)
	}
	return &req, nil
}

func (r *memoryRepository) ResolveCancellationRequest(_ context.Context, req *CancellationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.cancellation[req.ID]
	if !ok {
		return fmt.Errorf("%w: cancellation request %s", apperrors.ErrNotFound, req.ID)
	}
	if cur.Status != CancellationPending {
		return fmt.Errorf("%w: cancellation request %s was already reviewed", apperrors.ErrInvalidTransition, req.ID)
	}
	r.cancellation[req.ID] = *req
	return nil
}

func (r *memoryRepository) ListCancellationRequests(_ context.Context, query CancellationRequestQuery) ([]CancellationRequest, int64, error) {
	r.mu.RLock()
	var all []CancellationRequest
	for _, req := range r.cancellation {
		if query.GuestID != "" && req.GuestID != query.GuestID {
			continue
		}
		if query.Status != "" && req.Status != CancellationRequestStatus(query.Status) {
			continue
		}
		all = append(all, req)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	page, limit := query.normalized()
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return []CancellationRequest{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// cloneBooking copies the pointer fields so stored bookings never alias a
// caller's.
func cloneBooking(b Booking) Booking {
	if b.HoldID != nil {
		id := *b.HoldID
		b.HoldID = &id
	}
	if b.HoldExpiresAt != nil {
		t := *b.HoldExpiresAt
		b.HoldExpiresAt = &t
	}
	if b.PaymentReference != nil {
		ref := *b.PaymentReference
		b.PaymentReference = &ref
	}
	if b.IdempotencyKey != nil {
		k := *b.IdempotencyKey
		b.IdempotencyKey = &k
	}
	if b.TerminalAt != nil {
		t := *b.TerminalAt
		b.TerminalAt = &t
	}
	return b
}
