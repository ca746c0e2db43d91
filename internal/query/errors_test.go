package query

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindStringsAreDistinct(t *testing.T) {
	seen := make(map[string]Kind)
	for _, k := range Kinds {
		s := k.String()
		if prev, ok := seen[s]; ok {
			t.Fatalf("kinds %d and %d share name %q", prev, k, s)
		}
		seen[s] = k
	}
	if Kind(99).String() != "kind(99)" {
		t.Fatalf("unknown kind = %q", Kind(99).String())
	}
}

func TestKindOfUnwraps(t *testing.T) {
	cause := errors.New("socket closed")
	err := fmt.Errorf("run: %w", NewError(KindExecution, "query execution failed", cause))
	if KindOf(err) != KindExecution {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if KindOf(cause) != 0 {
		t.Fatal("plain errors carry no kind")
	}
}

func TestDenialKinds(t *testing.T) {
	for _, k := range Kinds {
		want := k == KindSecurity || k == KindPermission
		if k.Denial() != want {
			t.Errorf("%s.Denial() = %v", k, k.Denial())
		}
	}
}

func TestRoleFromClaims(t *testing.T) {
	cases := map[string]Role{
		"admin":      RolePrivileged,
		" Admin ":    RolePrivileged,
		"owner":      RoleStandard,
		"farm_owner": RoleStandard,
		"farmer":     RoleStandard,
		"":           RoleStandard,
		"privileged": RolePrivileged,
	}
	for claim, want := range cases {
		if got := RoleFromClaims(claim); got != want {
			t.Errorf("RoleFromClaims(%q) = %s, want %s", claim, got, want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := Errorf(KindPermission, "collection %q not allowed", "employees")
	if e.Error() != `permission_error: collection "employees" not allowed` {
		t.Fatalf("Error() = %q", e.Error())
	}
}
