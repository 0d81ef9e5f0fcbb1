package jchat

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ============================================================================
// Participant references
// ============================================================================

// Ref is a participant reference as it appears on the wire. The backend is
// inconsistent about identity: the same logical person may arrive as a raw
// string or number id, or as an embedded object carrying a primary store id
// ("_id"), a plain "id", or a legacy "externalId". Ref decodes all of those
// shapes and exposes one comparison form via Canonical.
type Ref struct {
	raw json.RawMessage

	scalar    string
	primary   string // object "_id"
	secondary string // object "externalId", falling back to object "id"
}

// RefFromString builds a Ref holding a plain scalar id.
func RefFromString(id string) Ref {
	id = strings.TrimSpace(id)
	if id == "" {
		return Ref{}
	}
	raw, _ := json.Marshal(id)
	return Ref{raw: raw, scalar: id}
}

// UnmarshalJSON accepts a string, a number, an object, or null.
// It never fails on shape alone; unresolvable input yields a zero Ref.
func (r *Ref) UnmarshalJSON(data []byte) error {
	*r = Ref{raw: append(json.RawMessage(nil), data...)}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		r.raw = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.scalar = strings.TrimSpace(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		r.scalar = n.String()
		return nil
	}

	var obj struct {
		PrimaryID  any `json:"_id"`
		ID         any `json:"id"`
		ExternalID any `json:"externalId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		r.primary = stringifyID(obj.PrimaryID)
		r.secondary = stringifyID(obj.ExternalID)
		if r.secondary == "" {
			r.secondary = stringifyID(obj.ID)
		}
	}
	return nil
}

// MarshalJSON re-emits the reference as received, so round-tripping a
// fetched message never rewrites its identity fields. Constructed refs
// marshal as their scalar id.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	return []byte("null"), nil
}

// Canonical returns the single normalized string form of the reference:
// object primary id, then object secondary id, then the raw scalar.
// An unresolvable reference canonicalizes to "".
func (r Ref) Canonical() string {
	if r.primary != "" {
		return r.primary
	}
	if r.secondary != "" {
		return r.secondary
	}
	return r.scalar
}

// IsZero reports whether the reference resolves to no identity at all.
func (r Ref) IsZero() bool {
	return r.Canonical() == ""
}

// CanonicalID folds a fallback chain of references into one canonical id.
// Callers list representations most-authoritative first (fetched record,
// then external id, then route parameter); the first resolvable one wins.
func CanonicalID(refs ...Ref) string {
	for _, r := range refs {
		if id := r.Canonical(); id != "" {
			return id
		}
	}
	return ""
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		// json.Unmarshal into any produces float64 for numbers
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// matchAny reports whether ref canonicalizes to any of the given ids.
// Empty ids never match, so two absent identities do not conflate.
func matchAny(ref Ref, ids []string) bool {
	c := ref.Canonical()
	if c == "" {
		return false
	}
	for _, id := range ids {
		if id != "" && c == id {
			return true
		}
	}
	return false
}
