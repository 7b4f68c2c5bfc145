package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RolePatroller Role = "patroller"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionRevert Action = "revert"
	ActionReview Action = "review"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePatroller:
		return action == ActionRead || action == ActionRevert || action == ActionReview
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RolePatroller, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
