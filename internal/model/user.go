package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

type User struct {
	ID        int64     `json:"id,string"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) IsAgent() bool {
	return u.Role == RoleAgent
}
