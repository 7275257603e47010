package security

import "fmt"

// AccessControlEntry allows or denies one action to one role.
type AccessControlEntry struct {
	Role   string `json:"role" yaml:"role"`
	Action Action `json:"action" yaml:"action"`
	Allow  bool   `json:"allow" yaml:"allow"`
}

// AccessControlList is the set of entries guarding a media package.
type AccessControlList struct {
	Entries []AccessControlEntry `json:"entries,omitempty" yaml:"entries"`
}

// IsEmpty reports whether the list has no entries.
func (l AccessControlList) IsEmpty() bool {
	return len(l.Entries) == 0
}

// Clone returns a deep copy of the list.
func (l AccessControlList) Clone() AccessControlList {
	if l.Entries == nil {
		return AccessControlList{}
	}

	entries := make([]AccessControlEntry, len(l.Entries))
	copy(entries, l.Entries)

	return AccessControlList{Entries: entries}
}

// Allows reports whether user may perform action. Deny entries win over allow entries.
func (l AccessControlList) Allows(user User, action Action) bool {
	if user.IsGlobalAdmin() {
		return true
	}

	allowed := false

	for _, entry := range l.Entries {
		if entry.Action != action || !user.HasRole(entry.Role) {
			continue
		}

		if !entry.Allow {
			return false
		}

		allowed = true
	}

	return allowed
}

// Merge returns the parent list overridden by the child list. An entry of the child
// replaces the parent entry for the same role and action.
func Merge(parent, child AccessControlList) AccessControlList {
	type entryKey struct {
		role   string
		action Action
	}

	merged := make([]AccessControlEntry, 0, len(parent.Entries)+len(child.Entries))
	position := make(map[entryKey]int)

	for _, list := range [][]AccessControlEntry{parent.Entries, child.Entries} {
		for _, entry := range list {
			key := entryKey{role: entry.Role, action: entry.Action}
			if idx, ok := position[key]; ok {
				merged[idx] = entry

				continue
			}

			position[key] = len(merged)
			merged = append(merged, entry)
		}
	}

	return AccessControlList{Entries: merged}
}

// Authorize checks action on a resource owned by organization against acl.
func Authorize(user User, organization string, acl AccessControlList, action Action, resource string) error {
	if user.IsGlobalAdmin() {
		return nil
	}

	if organization != "" && organization != user.Organization {
		return &UnauthorizedError{User: user.Username, Action: action, Resource: fmt.Sprintf("%s in organization %s", resource, organization)}
	}

	if !acl.Allows(user, action) {
		return &UnauthorizedError{User: user.Username, Action: action, Resource: resource}
	}

	return nil
}
