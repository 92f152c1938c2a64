package tools

import "testing"

func TestDomainOfEmail(t *testing.T) {
	type testCase struct {
		address string
		want    string
		wantErr bool
	}
	for _, tc := range []testCase{
		{address: "john@example.com", want: "example.com"},
		{address: "John@Example.COM", want: "example.com"},
		{address: "\"a@b\"@example.org", want: "example.org"},
		{address: "no-domain", wantErr: true},
		{address: "trailing@", wantErr: true},
	} {
		got, err := DomainOfEmail(tc.address)
		if (err != nil) != tc.wantErr {
			t.Errorf("ERROR: DomainOfEmail(%q) err: %v, wantErr: %v", tc.address, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ERROR: DomainOfEmail(%q) got: %s, want: %s", tc.address, got, tc.want)
		}
	}
}
