package jchat

import (
	"encoding/json"
	"testing"
)

// ============================================================================
// Ref decoding
// ============================================================================

func TestRefUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain string", `"user-123"`, "user-123"},
		{"number", `42`, "42"},
		{"object with numeric _id", `{"_id":42}`, "42"},
		{"object with float-encoded _id", `{"_id":42.0}`, "42"},
		{"object with _id", `{"_id":"abc","id":"legacy"}`, "abc"},
		{"object with id only", `{"id":"legacy"}`, "legacy"},
		{"object with externalId only", `{"externalId":"ext-9"}`, "ext-9"},
		{"object prefers _id over externalId", `{"_id":"abc","externalId":"ext-9"}`, "abc"},
		{"null", `null`, ""},
		{"empty object", `{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r Ref
			if err := json.Unmarshal([]byte(tc.in), &r); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if got := r.Canonical(); got != tc.want {
				t.Errorf("Canonical() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRefMarshalRoundTrip(t *testing.T) {
	// Marshal must re-emit what arrived, so forwarding a record upstream
	// does not flatten object-shaped identifiers.
	in := `{"_id":"abc","id":"legacy","externalId":"ext-9"}`
	var r Ref
	if err := json.Unmarshal([]byte(in), &r); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Errorf("marshal = %s, want %s", out, in)
	}
}

func TestRefFromString(t *testing.T) {
	r := RefFromString("user-1")
	if r.Canonical() != "user-1" {
		t.Errorf("Canonical() = %q, want %q", r.Canonical(), "user-1")
	}
	if r.IsZero() {
		t.Error("IsZero() = true for a populated ref")
	}
	if !(Ref{}).IsZero() {
		t.Error("IsZero() = false for the zero ref")
	}
}

// ============================================================================
// Identity equality across representations
// ============================================================================

func TestCanonicalIDEquivalence(t *testing.T) {
	// The same user arriving as a scalar, a number, and an object must
	// resolve to one id.
	var scalar, object Ref
	if err := json.Unmarshal([]byte(`"42"`), &scalar); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"_id":"42","externalId":"legacy-42"}`), &object); err != nil {
		t.Fatal(err)
	}
	var numeric Ref
	if err := json.Unmarshal([]byte(`42`), &numeric); err != nil {
		t.Fatal(err)
	}

	if scalar.Canonical() != object.Canonical() || scalar.Canonical() != numeric.Canonical() {
		t.Errorf("representations disagree: %q / %q / %q",
			scalar.Canonical(), object.Canonical(), numeric.Canonical())
	}
}

func TestCanonicalIDFirstNonEmpty(t *testing.T) {
	got := CanonicalID(Ref{}, RefFromString(""), RefFromString("fallback"))
	if got != "fallback" {
		t.Errorf("CanonicalID = %q, want %q", got, "fallback")
	}
	if CanonicalID() != "" {
		t.Error("CanonicalID with no refs should be empty")
	}
}

// ============================================================================
// User id sets
// ============================================================================

func TestUserIDs(t *testing.T) {
	t.Run("full record dedupes", func(t *testing.T) {
		u := &User{MongoID: "m1", ID: "u1", ExternalID: "u1"}
		ids := u.IDs("u1")
		want := []string{"m1", "u1"}
		if len(ids) != len(want) {
			t.Fatalf("IDs = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("IDs[%d] = %q, want %q", i, ids[i], want[i])
			}
		}
	})

	t.Run("nil user keeps fallback", func(t *testing.T) {
		var u *User
		ids := u.IDs("route-param")
		if len(ids) != 1 || ids[0] != "route-param" {
			t.Errorf("IDs = %v, want [route-param]", ids)
		}
	})

	t.Run("canonical precedence", func(t *testing.T) {
		u := &User{MongoID: "m1", ID: "u1"}
		if got := u.CanonicalID("x"); got != "m1" {
			t.Errorf("CanonicalID = %q, want m1", got)
		}
		u2 := &User{ID: "u1"}
		if got := u2.CanonicalID("x"); got != "u1" {
			t.Errorf("CanonicalID = %q, want u1", got)
		}
	})
}
