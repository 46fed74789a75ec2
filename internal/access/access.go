// Package access decides which profile sections a viewer may see or edit.
package access

import "strings"

// Role is a viewer's relationship to one profile. Roles form a fixed ordered
// hierarchy: public < supporter < representative < owner.
type Role string

const (
	RolePublic         Role = "public"
	RoleSupporter      Role = "supporter"
	RoleRepresentative Role = "representative"
	RoleOwner          Role = "owner"
)

var roleRank = map[Role]int{
	RolePublic:         0,
	RoleSupporter:      1,
	RoleRepresentative: 2,
	RoleOwner:          3,
}

// NormalizeRole maps arbitrary input to a known role, defaulting to public.
func NormalizeRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleSupporter:
		return RoleSupporter
	case RoleRepresentative:
		return RoleRepresentative
	case RoleOwner:
		return RoleOwner
	default:
		return RolePublic
	}
}

// AtLeast reports whether role sits at or above min in the hierarchy.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// AtOrAbove expands a minimum-role threshold into the set of roles that
// satisfy it. This is how legacy single-string permissions are interpreted.
func AtOrAbove(min Role) []Role {
	out := []Role{}
	for _, role := range []Role{RolePublic, RoleSupporter, RoleRepresentative, RoleOwner} {
		if role.AtLeast(min) {
			out = append(out, role)
		}
	}
	return out
}

// Rule names the roles allowed to view and edit one section.
type Rule struct {
	View []Role `json:"view"`
	Edit []Role `json:"edit"`
}

// Settings maps section names ("overview", "about", "updates", "prayer",
// "finance", ...) to their rule.
type Settings map[string]Rule

// Defaults is the fixed default permission table. Sections not listed here
// resolve to owner-only.
func Defaults() Settings {
	return Settings{
		"overview": {View: AtOrAbove(RolePublic), Edit: AtOrAbove(RoleOwner)},
		"about":    {View: AtOrAbove(RolePublic), Edit: AtOrAbove(RoleOwner)},
		"updates":  {View: AtOrAbove(RolePublic), Edit: AtOrAbove(RoleRepresentative)},
		"prayer":   {View: AtOrAbove(RoleSupporter), Edit: AtOrAbove(RoleRepresentative)},
		"finance":  {View: AtOrAbove(RoleRepresentative), Edit: AtOrAbove(RoleOwner)},
	}
}

// ownerOnly is the default-safe fallback for unconfigured extension sections.
func ownerOnly() Rule {
	return Rule{View: []Role{RoleOwner}, Edit: []Role{RoleOwner}}
}

// Normalize converts a stored permission table into Settings. Two legacy
// shapes are accepted per section: a single minimum-role string, which
// expands to that role and everything above it (edit stays at the stored
// default for the section), and the {view, edit} object form. Unknown or
// malformed sections fall back to the default table, or owner-only when the
// section has no default.
func Normalize(raw map[string]any) Settings {
	out := Defaults()
	for section, entry := range raw {
		switch value := entry.(type) {
		case string:
			rule, ok := out[section]
			if !ok {
				rule = ownerOnly()
			}
			rule.View = AtOrAbove(NormalizeRole(value))
			out[section] = rule
		case map[string]any:
			rule, ok := out[section]
			if !ok {
				rule = ownerOnly()
			}
			if view, ok := roleList(value["view"]); ok {
				rule.View = view
			}
			if edit, ok := roleList(value["edit"]); ok {
				rule.Edit = edit
			}
			out[section] = rule
		}
	}
	return SanitizeForSave(out)
}

func roleList(raw any) ([]Role, bool) {
	entries, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	seen := map[Role]struct{}{}
	out := []Role{}
	for _, entry := range entries {
		name, ok := entry.(string)
		if !ok {
			continue
		}
		role := NormalizeRole(name)
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out, true
}

// CanView reports whether the viewer may see the section. Unknown sections
// are owner-only, never public.
func (s Settings) CanView(section string, viewer Role) bool {
	rule, ok := s[section]
	if !ok {
		rule = ownerOnly()
	}
	return containsRole(rule.View, viewer)
}

// CanEdit reports whether the viewer may modify the section. There is no
// implicit widening from view permission.
func (s Settings) CanEdit(section string, viewer Role) bool {
	rule, ok := s[section]
	if !ok {
		rule = ownerOnly()
	}
	return containsRole(rule.Edit, viewer)
}

// SanitizeForSave enforces the table invariants before persistence: every
// edit set is a subset of its view set, and public never appears in an edit
// set. Violating entries are corrected, not rejected.
func SanitizeForSave(s Settings) Settings {
	out := make(Settings, len(s))
	for section, rule := range s {
		edit := []Role{}
		for _, role := range rule.Edit {
			if role == RolePublic {
				continue
			}
			edit = append(edit, role)
			if !containsRole(rule.View, role) {
				rule.View = append(rule.View, role)
			}
		}
		rule.Edit = edit
		out[section] = rule
	}
	return out
}

func containsRole(roles []Role, want Role) bool {
	for _, role := range roles {
		if role == want {
			return true
		}
	}
	return false
}
