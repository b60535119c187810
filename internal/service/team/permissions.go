package team

import "github.com/pagestack/platform/internal/domain"

// action identifies a mutating team operation for permission checks.
type action string

const (
	actionUpdateTeam   action = "team.update"
	actionDeleteTeam   action = "team.delete"
	actionAddMember    action = "member.add"
	actionUpdateMember action = "member.update"
	actionRemoveMember action = "member.remove"
)

// actionRoles maps each action to the actor roles allowed to attempt it.
// Target-role constraints are enforced separately via canManage.
var actionRoles = map[action]map[domain.Role]bool{
	actionUpdateTeam:   {domain.RoleOwner: true, domain.RoleAdmin: true},
	actionDeleteTeam:   {domain.RoleOwner: true},
	actionAddMember:    {domain.RoleOwner: true, domain.RoleAdmin: true},
	actionUpdateMember: {domain.RoleOwner: true, domain.RoleAdmin: true},
	actionRemoveMember: {domain.RoleOwner: true, domain.RoleAdmin: true},
}

// manageMatrix answers whether an actor role may touch a row held by the
// target role. Owners manage everyone; admins only members and viewers.
var manageMatrix = map[domain.Role]map[domain.Role]bool{
	domain.RoleOwner: {
		domain.RoleOwner:  true,
		domain.RoleAdmin:  true,
		domain.RoleMember: true,
		domain.RoleViewer: true,
	},
	domain.RoleAdmin: {
		domain.RoleMember: true,
		domain.RoleViewer: true,
	},
}

func roleAllowed(a action, actor domain.Role) bool {
	return actionRoles[a][actor]
}

func canManage(actor, target domain.Role) bool {
	return manageMatrix[actor][target]
}
