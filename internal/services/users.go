package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"medfinder/internal/authz"
	"medfinder/internal/events"
	"medfinder/internal/models"
	"medfinder/internal/store"
	"medfinder/internal/utils/logger"
)

var (
	// ErrLastAdmin blocks any change that would leave the system without an
	// admin.
	ErrLastAdmin = errors.New("cannot remove the last remaining admin")
	// ErrBootstrapClosed is returned once any other user has a profile.
	ErrBootstrapClosed = errors.New("bootstrap is closed: other users already exist")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrPharmacyRequired   = errors.New("staff must be assigned to a pharmacy")
)

type UserService struct {
	repo store.UserRepository
	bus  *events.EventBus
	log  *logger.Logger
	cost int
}

func NewUserService(repo store.UserRepository, bus *events.EventBus) *UserService {
	if bus == nil {
		bus = events.Default()
	}
	return &UserService{
		repo: repo,
		bus:  bus,
		log:  logger.New("USERS"),
		cost: bcrypt.DefaultCost,
	}
}

// WithHashCost lowers the bcrypt cost, for tests.
func (s *UserService) WithHashCost(cost int) *UserService {
	s.cost = cost
	return s
}

// Register creates a user and their role profile. The very first user in an
// empty system becomes admin.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*models.User, *models.UserProfile, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, nil, s.log.Error("Failed to hash password", err)
	}

	user := &models.User{Email: email, Password: string(hash), Name: name}
	if err := s.repo.CreateUser(ctx, user); errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent signup for the same email.
		return nil, nil, ErrEmailTaken
	} else if err != nil {
		return nil, nil, s.log.Error("Failed to create user", err)
	}

	profile, err := s.EnsureProfile(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	s.bus.Emit(events.UserRegistered, profile)
	return user, profile, nil
}

// Authenticate checks a password against the stored hash.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureProfile returns the user's profile, creating it on first call. The
// first profile ever created is an admin; every later one is a user.
func (s *UserService) EnsureProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var out *models.UserProfile
	err := s.repo.InTx(ctx, func(repo store.UserRepository) error {
		existing, err := repo.GetProfile(ctx, userID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		count, err := repo.CountProfiles(ctx)
		if err != nil {
			return err
		}
		role := models.LowestAuthenticatedRole
		if count == 0 {
			role = models.RoleAdmin
		}

		profile := &models.UserProfile{UserID: userID, Role: role}
		if err := repo.CreateProfile(ctx, profile); err != nil {
			return err
		}
		out = profile
		return nil
	})
	if err != nil {
		return nil, s.log.Error("Failed to ensure profile for %s", err, userID)
	}
	if out.Role == models.RoleAdmin {
		s.log.Success("Bootstrapped %s as the first admin", userID)
	}
	return out, nil
}

// Bootstrap promotes userID to admin while no other user has a profile. It
// recovers a system whose only user lost their admin profile.
func (s *UserService) Bootstrap(ctx context.Context, userID string) (*models.UserProfile, error) {
	var out *models.UserProfile
	err := s.repo.InTx(ctx, func(repo store.UserRepository) error {
		count, err := repo.CountProfiles(ctx)
		if err != nil {
			return err
		}
		existing, err := repo.GetProfile(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		others := count
		if existing != nil {
			others--
		}
		if others > 0 {
			return ErrBootstrapClosed
		}

		if existing == nil {
			out = &models.UserProfile{UserID: userID, Role: models.RoleAdmin}
			return repo.CreateProfile(ctx, out)
		}
		if err := repo.UpdateProfile(ctx, userID, models.RoleAdmin, nil); err != nil {
			return err
		}
		existing.Role = models.RoleAdmin
		existing.PharmacyID = nil
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bus.Emit(events.UserRoleChanged, out)
	return out, nil
}

// ChangeRole sets a user's role. Staff must name the pharmacy they work at;
// other roles never carry one.
func (s *UserService) ChangeRole(ctx context.Context, userID string, role models.Role, pharmacyID *string) (*models.UserProfile, error) {
	if !models.IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if role == models.RoleStaff && (pharmacyID == nil || *pharmacyID == "") {
		return nil, ErrPharmacyRequired
	}
	if role != models.RoleStaff {
		pharmacyID = nil
	}

	var out *models.UserProfile
	err := s.repo.InTx(ctx, func(repo store.UserRepository) error {
		profile, err := repo.GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		admins, err := repo.CountByRole(ctx, models.RoleAdmin)
		if err != nil {
			return err
		}
		if authz.WouldViolateMinimumAdminInvariant(admins, profile.Role, role == models.RoleAdmin) {
			return ErrLastAdmin
		}
		if err := repo.UpdateProfile(ctx, userID, role, pharmacyID); err != nil {
			return err
		}
		profile.Role = role
		profile.PharmacyID = pharmacyID
		out = profile
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Changed role of %s to %s", userID, role)
	s.bus.Emit(events.UserRoleChanged, out)
	return out, nil
}

// DeleteUser removes a user and their profile. Deleting the only admin is
// refused and leaves both untouched.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	err := s.repo.InTx(ctx, func(repo store.UserRepository) error {
		if _, err := repo.GetUser(ctx, userID); err != nil {
			return err
		}
		role := models.LowestAuthenticatedRole
		profile, err := repo.GetProfile(ctx, userID)
		switch {
		case err == nil:
			role = profile.Role
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		admins, err := repo.CountByRole(ctx, models.RoleAdmin)
		if err != nil {
			return err
		}
		if authz.WouldViolateMinimumAdminInvariant(admins, role, false) {
			return ErrLastAdmin
		}
		return repo.DeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.log.Info("Deleted user %s", userID)
	s.bus.Emit(events.UserDeleted, userID)
	return nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.repo.GetProfile(ctx, userID)
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repo.GetUser(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context, role models.Role, page, limit int) ([]models.UserProfile, int64, error) {
	if role != "" && !models.IsValidRole(role) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.repo.ListProfiles(ctx, role, page, limit)
}
