package rbac

import (
	"sort"
	"strings"
)

type Capability string

const (
	CapMarkAsMarked  Capability = "can_mark_as_marked"
	CapMarkAsChecked Capability = "can_mark_as_checked"
)

func Capabilities() []Capability {
	return []Capability{CapMarkAsMarked, CapMarkAsChecked}
}

// Normalize accepts a bare codename or one qualified with its app label,
// e.g. "documents.can_mark_as_checked".
func Normalize(value string) (Capability, bool) {
	value = strings.TrimSpace(value)
	if i := strings.LastIndexByte(value, '.'); i >= 0 {
		value = value[i+1:]
	}
	switch Capability(value) {
	case CapMarkAsMarked, CapMarkAsChecked:
		return Capability(value), true
	default:
		return "", false
	}
}

// AuthContext describes the caller. It is built once per request and passed
// to every component that needs to know who is acting.
type AuthContext struct {
	UserID    string
	UserName  string
	Staff     bool
	Superuser bool

	capabilities  map[Capability]struct{}
	authenticated bool
}

// Anonymous is the read-only caller.
func Anonymous() AuthContext {
	return AuthContext{}
}

func NewAuthContext(userID, userName string, capabilities []string, staff, superuser bool) AuthContext {
	caps := make(map[Capability]struct{}, len(capabilities))
	for _, value := range capabilities {
		if capability, ok := Normalize(value); ok {
			caps[capability] = struct{}{}
		}
	}
	return AuthContext{
		UserID:        userID,
		UserName:      userName,
		Staff:         staff,
		Superuser:     superuser,
		capabilities:  caps,
		authenticated: userID != "",
	}
}

func (a AuthContext) IsAuthenticated() bool {
	return a.authenticated
}

// Has reports whether the caller holds capability. Superusers hold every
// capability; anonymous callers hold none.
func (a AuthContext) Has(capability Capability) bool {
	if !a.authenticated {
		return false
	}
	if a.Superuser {
		return true
	}
	_, ok := a.capabilities[capability]
	return ok
}

// Permissions lists the explicitly granted capabilities in stable order.
func (a AuthContext) Permissions() []string {
	items := make([]string, 0, len(a.capabilities))
	for capability := range a.capabilities {
		items = append(items, string(capability))
	}
	sort.Strings(items)
	return items
}
