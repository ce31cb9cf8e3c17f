package auth

import (
	"errors"
	"testing"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty stored token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "empty input denied", stored: "abc", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestForToken(t *testing.T) {
	if err := ForToken("  ").Validate(""); err != nil {
		t.Fatalf("blank token should disable the guard: %v", err)
	}
	v := ForToken("s3cret")
	if err := v.Validate("s3cret"); err != nil {
		t.Fatalf("expected accept: %v", err)
	}
	if err := v.Validate("nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if !ok || got != want {
			t.Fatalf("BearerToken(%q) = %q %v", header, got, ok)
		}
	}
	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		if _, ok := BearerToken(header); ok {
			t.Fatalf("BearerToken(%q) should fail", header)
		}
	}
}
