package platform

import "strings"

// User is the authenticated identity for the current session. Instances are
// treated as immutable once returned; fetch and hydrate operations install a
// fresh copy rather than mutating one already handed out.
type User struct {
	UserID        string
	Username      string
	Email         string
	Name          string
	Roles         []string
	Administrator bool

	// Extra holds hydrated profile fields that have no dedicated struct
	// field, keyed in camelCase.
	Extra map[string]interface{}
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Roles = append([]string(nil), u.Roles...)
	if u.Extra != nil {
		out.Extra = make(map[string]interface{}, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// mergeProfile returns a new User with profile fields folded in. Profile keys
// arrive in the wire's snake_case convention and are converted to camelCase;
// on collision the profile value wins, fields absent from the profile are
// kept.
func (u *User) mergeProfile(profile map[string]interface{}) *User {
	merged := u.clone()
	if merged.Extra == nil {
		merged.Extra = make(map[string]interface{}, len(profile))
	}
	for key, value := range profile {
		camel := snakeToCamel(key)
		switch camel {
		case "username":
			if s, ok := value.(string); ok {
				merged.Username = s
				continue
			}
		case "email":
			if s, ok := value.(string); ok {
				merged.Email = s
				continue
			}
		case "name":
			if s, ok := value.(string); ok {
				merged.Name = s
				continue
			}
		}
		merged.Extra[camel] = value
	}
	return merged
}

// snakeToCamel converts wire field names (full_name) to the in-memory
// convention (fullName).
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 || b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
