package users

import "slices"

// Role names the backend assigns.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is one entry of the backend's user list.
type User struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Address  Address  `json:"address"`
	Phone    string   `json:"phone"`
	Website  string   `json:"website"`
	Company  Company  `json:"company"`
	Roles    []string `json:"roles,omitempty"`
}

type Address struct {
	Street  string `json:"street"`
	Suite   string `json:"suite"`
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
	Geo     Geo    `json:"geo"`
}

// Geo holds coordinates as the backend sends them, as strings.
type Geo struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

type Company struct {
	Name        string `json:"name"`
	CatchPhrase string `json:"catchPhrase"`
	BS          string `json:"bs"`
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}
