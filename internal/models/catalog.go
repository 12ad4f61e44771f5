package models

import "time"

type Department struct {
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
	Prefix       string `json:"prefix"`
}

type Service struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
}

type Server struct {
	ServerID     string `json:"server_id"`
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
}

// ServerService is the (server, service) pairing that carries the handling
// duration used for waiting-time estimates.
type ServerService struct {
	ServerID        string        `json:"server_id"`
	ServiceID       string        `json:"service_id"`
	AverageDuration time.Duration `json:"average_duration"`
}

// ServerDetail is a server together with the services it offers.
type ServerDetail struct {
	Server
	Services []ServerService `json:"services"`
}

type User struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	MobileNo string `json:"mobile_no,omitempty"`
	Role     string `json:"role,omitempty"`
}

const (
	RoleVisitor = "visitor"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

// IsStaff reports whether the user works the counters. Admins count as staff.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff || u.Role == RoleAdmin
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeRole maps unknown or empty roles to RoleVisitor.
func NormalizeRole(role string) string {
	switch role {
	case RoleStaff, RoleAdmin:
		return role
	default:
		return RoleVisitor
	}
}
