package validation

import (
	"errors"
	"testing"
)

func TestValidateZip(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name: "valid zip",
			in:   "60614",
			want: "60614",
		},
		{
			name: "valid zip with whitespace",
			in:   "  62401 ",
			want: "62401",
		},
		{
			name: "leading zeros",
			in:   "02134",
			want: "02134",
		},
		{
			name:    "empty",
			in:      "",
			wantErr: ErrZipEmpty,
		},
		{
			name:    "whitespace only",
			in:      "   ",
			wantErr: ErrZipEmpty,
		},
		{
			name:    "too short",
			in:      "6061",
			wantErr: ErrZipFormat,
		},
		{
			name:    "too long",
			in:      "606141",
			wantErr: ErrZipFormat,
		},
		{
			name:    "non-digit",
			in:      "6O614",
			wantErr: ErrZipFormat,
		},
		{
			name:    "zip+4",
			in:      "60614-1234",
			wantErr: ErrZipFormat,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateZip(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ValidateZip(%q) error = %v, want %v", tc.in, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateZip(%q) error = %v, want nil", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ValidateZip(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
