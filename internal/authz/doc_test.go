package authz

import (
	"fmt"

	"medfinder/internal/models"
)

func ExampleAllows() {
	fmt.Println(Allows(RouteAppAdmin, models.RoleStaff))
	fmt.Println(Allows(MedicineWrite, models.RoleStaff))
	fmt.Println(Allows(MedicineSearch, RolePublic))
	// Output:
	// false
	// true
	// true
}
