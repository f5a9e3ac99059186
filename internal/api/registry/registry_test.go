package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/models"
	"medfinder/internal/store"
	"medfinder/internal/testutil"
)

const (
	ownPharmacy   = "11111111-1111-1111-1111-111111111111"
	otherPharmacy = "22222222-2222-2222-2222-222222222222"
)

type fakeProfiles map[string]*models.UserProfile

func (f fakeProfiles) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	p, ok := f[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

// fakeOwnership maps medicine id to pharmacy id.
type fakeOwnership map[string]string

func (f fakeOwnership) MedicineBelongsTo(_ context.Context, medicineID, pharmacyID string) (bool, error) {
	return f[medicineID] == pharmacyID, nil
}

func TestStaffOwnsMedicine(t *testing.T) {
	own := ownPharmacy
	profiles := fakeProfiles{
		"admin":    {UserID: "admin", Role: models.RoleAdmin},
		"staff":    {UserID: "staff", Role: models.RoleStaff, PharmacyID: &own},
		"orphaned": {UserID: "orphaned", Role: models.RoleStaff},
	}
	resolver := authz.NewResolver(testutil.RolesFromMap(map[string]models.Role{
		"admin":    models.RoleAdmin,
		"staff":    models.RoleStaff,
		"orphaned": models.RoleStaff,
	}), nil)
	check := StaffOwnsMedicine(profiles, fakeOwnership{
		"med-own":   ownPharmacy,
		"med-other": otherPharmacy,
	})

	tests := []struct {
		name    string
		userID  string
		id      string
		entity  *models.Medicine
		wantErr error
	}{
		{"admin writes anywhere", "admin", "med-other", &models.Medicine{PharmacyID: otherPharmacy}, nil},
		{"staff without pharmacy", "orphaned", "", &models.Medicine{PharmacyID: ownPharmacy}, authz.ErrInsufficientPermissions},
		{"staff creates for another pharmacy", "staff", "", &models.Medicine{PharmacyID: otherPharmacy}, authz.ErrInsufficientPermissions},
		{"staff updates medicine owned elsewhere", "staff", "med-other", &models.Medicine{PharmacyID: ownPharmacy}, authz.ErrInsufficientPermissions},
		{"staff uploads image for medicine owned elsewhere", "staff", "med-other", nil, authz.ErrInsufficientPermissions},
		{"staff creates for own pharmacy", "staff", "", &models.Medicine{PharmacyID: ownPharmacy}, nil},
		{"staff updates own medicine", "staff", "med-own", &models.Medicine{PharmacyID: ownPharmacy}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/", nil)
			req = req.WithContext(authz.WithIdentity(req.Context(), authz.Identity{UserID: tt.userID}))
			c := e.NewContext(req, httptest.NewRecorder())

			var got error
			err := middleware.RequireCapability(resolver, authz.MedicineWrite)(func(c echo.Context) error {
				got = check(c, tt.id, tt.entity)
				return nil
			})(c)
			if err != nil {
				t.Fatalf("capability check: %v", err)
			}
			if !errors.Is(got, tt.wantErr) {
				t.Errorf("err = %v, want %v", got, tt.wantErr)
			}
		})
	}
}

func TestStaffOwnsMedicineWithoutGrant(t *testing.T) {
	check := StaffOwnsMedicine(fakeProfiles{}, fakeOwnership{})
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPut, "/", nil), httptest.NewRecorder())

	if err := check(c, "med", nil); !errors.Is(err, authz.ErrAuthenticationRequired) {
		t.Errorf("err = %v", err)
	}
}
