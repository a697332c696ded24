package rbac

const (
	RoleLearner = "learner"
	RoleAdmin   = "admin"
)

const (
	PermModuleView   = "module:view"
	PermModuleWrite  = "module:write"
	PermContentRead  = "content:read"
	PermContentWrite = "content:write"
	PermProgressView = "progress:view-own"
	PermProgressAll  = "progress:view-all"
	PermProgressOwn  = "progress:write-own"
	PermAttempt      = "attempt:*"
	PermViewer       = "viewer:open"
)

// Default policy. Learners act on their own records only; handlers key every
// write by the token subject.
var RolePermissions = map[string][]string{
	RoleLearner: {
		PermModuleView,
		PermContentRead,
		PermProgressView,
		PermProgressOwn,
		PermAttempt,
		PermViewer,
		"events:subscribe",
	},
	RoleAdmin: {
		"*", // everything
	},
}
