// Package authz resolves whether the caller may exercise a capability.
//
// Every guarded entry point goes through Resolver.Resolve. The grant table
// below is data: reviewing permissions means reading grants and public,
// nothing else.
package authz

import "medfinder/internal/models"

// Capability names one route or action. The set is closed: values outside
// AllCapabilities never resolve.
type Capability uint8

const (
	RouteHome Capability = iota
	RouteSearch
	RouteApp
	RouteAppPharmacy
	RouteAppAdmin
	RouteAppPlayground
	RouteAppBilling

	PharmacyRead
	PharmacyWrite
	MedicineSearch
	MedicineWrite
	MedicineImageUpload

	UserRead
	UserWrite
	DashboardRead
	AdminPanel

	AIGenerate
	AIUsageRead
	AIResponseRead
	AIResponseDelete
	AIResponseTruncate

	BillingManage

	numCapabilities
)

var names = [numCapabilities]string{
	RouteHome:          "route:/",
	RouteSearch:        "route:/search",
	RouteApp:           "route:/app",
	RouteAppPharmacy:   "route:/app/pharmacy",
	RouteAppAdmin:      "route:/app/admin",
	RouteAppPlayground: "route:/app/playground",
	RouteAppBilling:    "route:/app/billing",

	PharmacyRead:        "pharmacy.read",
	PharmacyWrite:       "pharmacy.write",
	MedicineSearch:      "medicine.search",
	MedicineWrite:       "medicine.write",
	MedicineImageUpload: "medicine.image.upload",

	UserRead:      "user.read",
	UserWrite:     "user.write",
	DashboardRead: "dashboard.read",
	AdminPanel:    "admin.panel",

	AIGenerate:         "ai.generate",
	AIUsageRead:        "ai.usage.read",
	AIResponseRead:     "ai.response.read",
	AIResponseDelete:   "ai.response.delete",
	AIResponseTruncate: "ai.response.truncate",

	BillingManage: "billing.manage",
}

var (
	admin         = []models.Role{models.RoleAdmin}
	staffAndAdmin = []models.Role{models.RoleAdmin, models.RoleStaff}
	authenticated = []models.Role{models.RoleAdmin, models.RoleStaff, models.RoleUser}
)

// grants is indexed by Capability, so every capability has an entry. A
// public capability needs none.
var grants = [numCapabilities][]models.Role{
	RouteApp:           authenticated,
	RouteAppPharmacy:   staffAndAdmin,
	RouteAppAdmin:      admin,
	RouteAppPlayground: authenticated,
	RouteAppBilling:    authenticated,

	PharmacyWrite:       admin,
	MedicineWrite:       staffAndAdmin,
	MedicineImageUpload: staffAndAdmin,

	UserRead:      admin,
	UserWrite:     admin,
	DashboardRead: admin,
	AdminPanel:    admin,

	AIGenerate:         authenticated,
	AIUsageRead:        authenticated,
	AIResponseRead:     authenticated,
	AIResponseDelete:   authenticated,
	AIResponseTruncate: admin,

	BillingManage: authenticated,
}

var public = [numCapabilities]bool{
	RouteHome:      true,
	RouteSearch:    true,
	PharmacyRead:   true,
	MedicineSearch: true,
}

var byName = func() map[string]Capability {
	m := make(map[string]Capability, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		m[names[c]] = c
	}
	return m
}()

// String returns the wire name, e.g. "route:/app/admin".
func (c Capability) String() string {
	if !c.Valid() {
		return "invalid"
	}
	return names[c]
}

// Valid reports whether c is one of the declared capabilities.
func (c Capability) Valid() bool {
	return c < numCapabilities
}

// Parse looks up a capability by wire name.
func Parse(name string) (Capability, bool) {
	c, ok := byName[name]
	return c, ok
}

// AllCapabilities lists every declared capability in declaration order.
func AllCapabilities() []Capability {
	all := make([]Capability, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		all = append(all, c)
	}
	return all
}

// IsPublic reports whether unauthenticated callers may use c.
func IsPublic(c Capability) bool {
	return c.Valid() && public[c]
}

// RolesFor returns the roles permitted to exercise c, in the order
// declared. Invalid capabilities permit nobody.
func RolesFor(c Capability) []models.Role {
	if !c.Valid() {
		return nil
	}
	return grants[c]
}

// Allows reports whether role may exercise c. Public capabilities allow
// every role.
func Allows(c Capability, role models.Role) bool {
	if IsPublic(c) {
		return true
	}
	for _, r := range RolesFor(c) {
		if r == role {
			return true
		}
	}
	return false
}
