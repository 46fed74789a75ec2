package access

import (
	"reflect"
	"testing"
)

func TestDefaults(t *testing.T) {
	settings := Defaults()

	cases := []struct {
		section string
		role    Role
		view    bool
		edit    bool
	}{
		{"overview", RolePublic, true, false},
		{"updates", RolePublic, true, false},
		{"updates", RoleRepresentative, true, true},
		{"prayer", RolePublic, false, false},
		{"prayer", RoleSupporter, true, false},
		{"prayer", RoleRepresentative, true, true},
		{"finance", RoleSupporter, false, false},
		{"finance", RoleRepresentative, true, false},
		{"finance", RoleOwner, true, true},
	}
	for _, tc := range cases {
		if got := settings.CanView(tc.section, tc.role); got != tc.view {
			t.Errorf("CanView(%s, %s) = %v, want %v", tc.section, tc.role, got, tc.view)
		}
		if got := settings.CanEdit(tc.section, tc.role); got != tc.edit {
			t.Errorf("CanEdit(%s, %s) = %v, want %v", tc.section, tc.role, got, tc.edit)
		}
	}
}

func TestUnknownSectionIsOwnerOnly(t *testing.T) {
	settings := Defaults()
	for _, role := range []Role{RolePublic, RoleSupporter, RoleRepresentative} {
		if settings.CanView("testimony", role) {
			t.Errorf("unknown section visible to %s", role)
		}
	}
	if !settings.CanView("testimony", RoleOwner) {
		t.Errorf("unknown section must stay visible to the owner")
	}
}

func TestNormalizeLegacyStringExpands(t *testing.T) {
	settings := Normalize(map[string]any{"finance": "supporter"})

	rule := settings["finance"]
	if !reflect.DeepEqual(rule.View, []Role{RoleSupporter, RoleRepresentative, RoleOwner}) {
		t.Fatalf("view = %v", rule.View)
	}
	// Legacy strings only set the view threshold; edit keeps the default.
	if !reflect.DeepEqual(rule.Edit, Defaults()["finance"].Edit) {
		t.Fatalf("edit = %v", rule.Edit)
	}
}

func TestNormalizeObjectForm(t *testing.T) {
	settings := Normalize(map[string]any{
		"updates": map[string]any{
			"view": []any{"supporter", "owner"},
			"edit": []any{"owner"},
		},
	})

	rule := settings["updates"]
	if !reflect.DeepEqual(rule.View, []Role{RoleSupporter, RoleOwner}) {
		t.Fatalf("view = %v", rule.View)
	}
	if !reflect.DeepEqual(rule.Edit, []Role{RoleOwner}) {
		t.Fatalf("edit = %v", rule.Edit)
	}
}

func TestNormalizeMalformedSectionKeepsDefault(t *testing.T) {
	settings := Normalize(map[string]any{"prayer": 42})
	if !reflect.DeepEqual(settings["prayer"], Defaults()["prayer"]) {
		t.Fatalf("malformed section should keep the default rule, got %v", settings["prayer"])
	}
}

func TestSanitizeForSaveDropsPublicEdit(t *testing.T) {
	settings := SanitizeForSave(Settings{
		"about": {View: AtOrAbove(RolePublic), Edit: []Role{RolePublic, RoleOwner}},
	})
	for _, role := range settings["about"].Edit {
		if role == RolePublic {
			t.Fatalf("public survived in edit set: %v", settings["about"].Edit)
		}
	}
}

func TestSanitizeForSaveEditImpliesView(t *testing.T) {
	settings := SanitizeForSave(Settings{
		"finance": {View: []Role{RoleOwner}, Edit: []Role{RoleRepresentative, RoleOwner}},
	})
	if !settings.CanView("finance", RoleRepresentative) {
		t.Fatalf("editor role must be able to view, got %v", settings["finance"])
	}
}

func TestNormalizeEnforcesInvariants(t *testing.T) {
	settings := Normalize(map[string]any{
		"updates": map[string]any{
			"view": []any{"owner"},
			"edit": []any{"public", "supporter"},
		},
	})
	rule := settings["updates"]
	if settings.CanEdit("updates", RolePublic) {
		t.Fatalf("public must never edit: %v", rule)
	}
	if !settings.CanView("updates", RoleSupporter) {
		t.Fatalf("supporter edits, so supporter must view: %v", rule)
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"owner":           RoleOwner,
		" Representative": RoleRepresentative,
		"SUPPORTER":       RoleSupporter,
		"":                RolePublic,
		"stranger":        RolePublic,
	}
	for raw, want := range cases {
		if got := NormalizeRole(raw); got != want {
			t.Errorf("NormalizeRole(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !RoleOwner.AtLeast(RoleSupporter) {
		t.Errorf("owner outranks supporter")
	}
	if RolePublic.AtLeast(RoleSupporter) {
		t.Errorf("public does not outrank supporter")
	}
	if !RoleSupporter.AtLeast(RoleSupporter) {
		t.Errorf("a role satisfies its own threshold")
	}
}
