package httpapi

import (
	"net/http"

	"qms/transaction-service/internal/models"
)

type permission string

const (
	permissionQueueManage   permission = "queue.manage"
	permissionAuditRead     permission = "audit.read"
	permissionServersManage permission = "servers.manage"
)

// requirePermission resolves the caller and checks the role stored on their
// user record. Roles are never taken from request headers.
func requirePermission(w http.ResponseWriter, r *http.Request, perm permission) (models.User, bool) {
	user, ok := requireUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if hasPermission(models.NormalizeRole(user.Role), perm) {
		return user, true
	}
	writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "insufficient role")
	return models.User{}, false
}

func hasPermission(role string, perm permission) bool {
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleStaff:
		switch perm {
		case permissionQueueManage, permissionAuditRead:
			return true
		default:
			return false
		}
	default:
		return false
	}
}
