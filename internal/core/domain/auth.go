package domain

import (
	"strings"
	"time"
)

// APIKey is a stored credential. ActorID, when set, replaces the default
// actor recorded on audit entries for requests made with the key.
type APIKey struct {
	TokenHash string
	TenantID  string
	Name      string
	ActorID   string
	Active    bool
	CreatedAt time.Time
}

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID string
	KeyName  string
	ActorID  string
}

// Principal resolves the caller behind an active key. Inactive keys resolve
// to nobody. Keys without an explicit actor act as "apikey:<name>".
func (k APIKey) Principal() (Principal, bool) {
	if !k.Active {
		return Principal{}, false
	}
	actorID := strings.TrimSpace(k.ActorID)
	if actorID == "" {
		actorID = "apikey:" + k.Name
	}
	return Principal{TenantID: k.TenantID, KeyName: k.Name, ActorID: actorID}, true
}
