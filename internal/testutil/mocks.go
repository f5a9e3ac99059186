package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medfinder/internal/billing"
	"medfinder/internal/models"
	"medfinder/internal/store"
)

// MockRoleStore is a function-field implementation of authz.RoleStore
type MockRoleStore struct {
	FindRoleFunc func(ctx context.Context, userID string) (models.Role, bool, error)
}

func (m *MockRoleStore) FindRole(ctx context.Context, userID string) (models.Role, bool, error) {
	if m.FindRoleFunc != nil {
		return m.FindRoleFunc(ctx, userID)
	}
	return "", false, errors.New("not implemented")
}

// RolesFromMap answers FindRole from a fixed map.
func RolesFromMap(roles map[string]models.Role) *MockRoleStore {
	return &MockRoleStore{FindRoleFunc: func(_ context.Context, userID string) (models.Role, bool, error) {
		r, ok := roles[userID]
		return r, ok, nil
	}}
}

// MockEntitlements is a function-field billing entitlement checker
type MockEntitlements struct {
	ConfiguredValue bool
	CheckFunc       func(ctx context.Context, customerID string) (billing.CheckResult, error)
	Calls           int
}

func (m *MockEntitlements) Configured() bool { return m.ConfiguredValue }

func (m *MockEntitlements) Check(ctx context.Context, customerID string) (billing.CheckResult, error) {
	m.Calls++
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, customerID)
	}
	return billing.CheckResult{}, errors.New("not implemented")
}

// RecordingTracker keeps every payload it is asked to track
type RecordingTracker struct {
	mu       sync.Mutex
	Payloads []billing.TrackPayload
}

func (r *RecordingTracker) Track(_ context.Context, p billing.TrackPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payloads = append(r.Payloads, p)
}

func (r *RecordingTracker) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Payloads)
}

// MemoryResponses is an in-memory ai response store
type MemoryResponses struct {
	mu      sync.Mutex
	byID    map[string]*models.AIResponse
	Appends []string

	// AppendErr and FinalizeErr, when set, are returned by the matching call.
	AppendErr   error
	FinalizeErr error
}

func NewMemoryResponses() *MemoryResponses {
	return &MemoryResponses{byID: make(map[string]*models.AIResponse)}
}

func (m *MemoryResponses) FindByKey(_ context.Context, requestorID, key string) (*models.AIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.RequestorID == requestorID && r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryResponses) Create(_ context.Context, resp *models.AIResponse) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.RequestorID == resp.RequestorID && r.IdempotencyKey == resp.IdempotencyKey {
			return false, nil
		}
	}
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	resp.Status = models.ResponsePending
	resp.CreatedAt = time.Now()
	cp := *resp
	m.byID[resp.ID] = &cp
	return true, nil
}

func (m *MemoryResponses) AppendContent(_ context.Context, id, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	r, ok := m.byID[id]
	if !ok || r.Status != models.ResponsePending {
		return nil
	}
	r.Content += chunk
	m.Appends = append(m.Appends, chunk)
	return nil
}

func (m *MemoryResponses) Finalize(_ context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinalizeErr != nil {
		return m.FinalizeErr
	}
	r, ok := m.byID[id]
	if !ok || r.Status != models.ResponsePending {
		return store.ErrAlreadyFinalized
	}
	if v, ok := fields["status"].(models.ResponseStatus); ok {
		r.Status = v
	}
	if v, ok := fields["content"].(string); ok {
		r.Content = v
	}
	if v, ok := fields["error_message"].(string); ok {
		r.ErrorMessage = v
	}
	if v, ok := fields["model"].(string); ok {
		r.Model = v
	}
	if v, ok := fields["total_tokens"].(int); ok {
		r.TotalTokens = v
	}
	if v, ok := fields["tokens_estimated"].(bool); ok {
		r.TokensEstimated = v
	}
	if v, ok := fields["parse_error"].(string); ok {
		r.ParseError = v
	}
	return nil
}

// Get returns a copy of the stored response.
func (m *MemoryResponses) Get(_ context.Context, id string) (*models.AIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryResponses) List(_ context.Context, requestorID string, page, limit int) ([]models.AIResponse, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AIResponse
	for _, r := range m.byID {
		if requestorID == "" || r.RequestorID == requestorID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if page > 0 && limit > 0 {
		start := (page - 1) * limit
		if start > len(out) {
			start = len(out)
		}
		end := start + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (m *MemoryResponses) DeleteForRequestor(_ context.Context, requestorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.byID {
		if r.RequestorID == requestorID {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryResponses) Truncate(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.byID))
	m.byID = make(map[string]*models.AIResponse)
	return n, nil
}

func (m *MemoryResponses) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// MemoryUsers is an in-memory store.UserRepository. InTx holds a single
// lock, so counts read inside it are stable.
type MemoryUsers struct {
	mu       sync.Mutex
	users    map[string]*models.User
	profiles map[string]*models.UserProfile
}

var _ store.UserRepository = (*MemoryUsers)(nil)

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users:    make(map[string]*models.User),
		profiles: make(map[string]*models.UserProfile),
	}
}

func (m *MemoryUsers) InTx(ctx context.Context, fn func(store.UserRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshotUsers := make(map[string]models.User, len(m.users))
	for k, v := range m.users {
		snapshotUsers[k] = *v
	}
	snapshotProfiles := make(map[string]models.UserProfile, len(m.profiles))
	for k, v := range m.profiles {
		snapshotProfiles[k] = *v
	}

	if err := fn(&lockedUsers{m}); err != nil {
		m.users = make(map[string]*models.User, len(snapshotUsers))
		for k, v := range snapshotUsers {
			v := v
			m.users[k] = &v
		}
		m.profiles = make(map[string]*models.UserProfile, len(snapshotProfiles))
		for k, v := range snapshotProfiles {
			v := v
			m.profiles[k] = &v
		}
		return err
	}
	return nil
}

func (m *MemoryUsers) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).CreateUser(ctx, user)
}

func (m *MemoryUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).GetUser(ctx, id)
}

func (m *MemoryUsers) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).GetUserByEmail(ctx, email)
}

func (m *MemoryUsers) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).DeleteUser(ctx, userID)
}

func (m *MemoryUsers) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).GetProfile(ctx, userID)
}

func (m *MemoryUsers) CreateProfile(ctx context.Context, profile *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).CreateProfile(ctx, profile)
}

func (m *MemoryUsers) UpdateProfile(ctx context.Context, userID string, role models.Role, pharmacyID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).UpdateProfile(ctx, userID, role, pharmacyID)
}

func (m *MemoryUsers) CountProfiles(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).CountProfiles(ctx)
}

func (m *MemoryUsers) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).CountByRole(ctx, role)
}

func (m *MemoryUsers) ListProfiles(ctx context.Context, role models.Role, page, limit int) ([]models.UserProfile, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&lockedUsers{m}).ListProfiles(ctx, role, page, limit)
}

// FindRole lets MemoryUsers stand in for the authz role store.
func (m *MemoryUsers) FindRole(ctx context.Context, userID string) (models.Role, bool, error) {
	p, err := m.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.Role, true, nil
}

// lockedUsers does the work; callers hold m.mu.
type lockedUsers struct{ m *MemoryUsers }

func (l *lockedUsers) InTx(ctx context.Context, fn func(store.UserRepository) error) error {
	return fn(l)
}

func (l *lockedUsers) CreateUser(_ context.Context, user *models.User) error {
	for _, u := range l.m.users {
		if !u.IsDeleted && strings.EqualFold(u.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now()
	cp := *user
	l.m.users[user.ID] = &cp
	return nil
}

func (l *lockedUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := l.m.users[id]
	if !ok || u.IsDeleted {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (l *lockedUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range l.m.users {
		if !u.IsDeleted && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (l *lockedUsers) DeleteUser(_ context.Context, userID string) error {
	u, ok := l.m.users[userID]
	if !ok || u.IsDeleted {
		return store.ErrNotFound
	}
	now := time.Now()
	u.IsDeleted = true
	u.DeletedAt = &now
	delete(l.m.profiles, userID)
	return nil
}

func (l *lockedUsers) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	p, ok := l.m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *lockedUsers) CreateProfile(_ context.Context, profile *models.UserProfile) error {
	if _, ok := l.m.profiles[profile.UserID]; ok {
		return errors.New("duplicate key value violates unique constraint")
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.CreatedAt = time.Now()
	cp := *profile
	l.m.profiles[profile.UserID] = &cp
	return nil
}

func (l *lockedUsers) UpdateProfile(_ context.Context, userID string, role models.Role, pharmacyID *string) error {
	p, ok := l.m.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.Role = role
	p.PharmacyID = pharmacyID
	return nil
}

func (l *lockedUsers) CountProfiles(context.Context) (int64, error) {
	return int64(len(l.m.profiles)), nil
}

func (l *lockedUsers) CountByRole(_ context.Context, role models.Role) (int64, error) {
	var n int64
	for _, p := range l.m.profiles {
		if p.Role == role {
			n++
		}
	}
	return n, nil
}

func (l *lockedUsers) ListProfiles(_ context.Context, role models.Role, page, limit int) ([]models.UserProfile, int64, error) {
	var out []models.UserProfile
	for _, p := range l.m.profiles {
		if role != "" && p.Role != role {
			continue
		}
		cp := *p
		if u, ok := l.m.users[p.UserID]; ok {
			uc := *u
			cp.User = &uc
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	total := int64(len(out))
	if page > 0 && limit > 0 {
		start := (page - 1) * limit
		if start > len(out) {
			start = len(out)
		}
		end := start + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}
