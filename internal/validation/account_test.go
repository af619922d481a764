package validation

import (
	"strings"
	"testing"
)

func TestValidateName_Valid(t *testing.T) {
	valids := []string{
		"abc",
		"alice_01",
		"X9_",
		"ABC123",
		strings.Repeat("a", 20), // límite superior exacto
	}
	for _, v := range valids {
		if err := ValidateName(v); err != nil {
			t.Fatalf("expected valid: %q, got %v", v, err)
		}
	}
}

func TestValidateName_Invalid(t *testing.T) {
	// Vacío, corto, largo, espacio, guión, no-ASCII y metacaracteres de
	// shell: todos fuera de [a-zA-Z0-9_]{3,20}.
	invalids := []string{
		"",
		"ab",
		strings.Repeat("a", 21),
		"has space",
		"dash-ed",
		"ünïcode",
		"semi;colon",
		"dot.name",
	}
	for _, v := range invalids {
		if err := ValidateName(v); err == nil {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestValidateSecret(t *testing.T) {
	cases := []struct {
		secret string
		ok     bool
	}{
		{"Str0ngPass!", true},
		{"aB3aB3aB", true}, // 8 chars exactos con las tres clases
		{"short1A", false},                       // 7 chars
		{"alllowercase1", false},                 // sin mayúscula
		{"ALLUPPERCASE1", false},                 // sin minúscula
		{"NoDigitsHere", false},                  // sin dígito
		{strings.Repeat("aB1", 43) + "x", false}, // 130 chars
	}
	for _, c := range cases {
		err := ValidateSecret(c.secret)
		if c.ok && err != nil {
			t.Fatalf("expected valid: %q, got %v", c.secret, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("expected invalid: %q", c.secret)
		}
	}
}

func TestFieldErrorMessageIsUserFacing(t *testing.T) {
	err := ValidateName("ab")
	fe, ok := err.(*FieldError)
	if !ok {
		t.Fatalf("expected *FieldError, got %T", err)
	}
	if fe.Msg == "" || fe.Field != "name" {
		t.Fatalf("unexpected field error: %+v", fe)
	}
	if !IsFieldError(err) {
		t.Fatal("IsFieldError should report true")
	}
}
