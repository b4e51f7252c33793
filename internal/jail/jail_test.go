// SPDX-License-Identifier: MPL-2.0

package jail

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/fnichol/iocage-provision/internal/hostuser"
)

func TestName_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  Name
		valid bool
	}{
		{"ferris", true},
		{"homebase", true},
		{"web-01.prod_a", true},
		{"9lives", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{"semi;colon", false},
		{"slash/name", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()

			err := tt.name.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidJailName) {
				t.Errorf("Validate() = %v, want ErrInvalidJailName", err)
			}
		})
	}
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	if err := (Request{Name: "ferris", Address: "192.168.0.100/24"}).Validate(); err != nil {
		t.Errorf("valid request: %v", err)
	}

	err := Request{Name: "bad name"}.Validate()
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("error = %v, want ErrInvalidRequest", err)
	}
	if !errors.Is(err, ErrInvalidJailName) {
		t.Errorf("error = %v, want the name error in the chain", err)
	}
	var reqErr *InvalidRequestError
	if !errors.As(err, &reqErr) || len(reqErr.FieldErrors) != 2 {
		t.Errorf("error = %#v, want two field errors", err)
	}
}

func TestSpec_ValidateAndSummarize(t *testing.T) {
	t.Parallel()

	spec := Spec{
		Name:    "homebase",
		Address: netip.MustParsePrefix("10.0.0.25/24"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
		Release: "13.2-RELEASE",
		SSH:     true,
		User: &hostuser.Record{
			Name: "jdoe",
			Keys: []hostuser.AuthorizedKey{{Type: "ssh-ed25519"}},
		},
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	sum := spec.Summarize("run-1")
	want := Summary{
		RunID: "run-1", Name: "homebase", Address: "10.0.0.25/24", Gateway: "10.0.0.1",
		Release: "13.2-RELEASE", SSH: true, UserCopied: true, User: "jdoe", Keys: 1,
	}
	if sum != want {
		t.Errorf("Summarize() = %+v, want %+v", sum, want)
	}

	broken := spec
	broken.Release = ""
	var incomplete *IncompleteSpecError
	if err := broken.Validate(); !errors.As(err, &incomplete) || incomplete.Field != "release" {
		t.Errorf("Validate() = %v, want missing release", err)
	}

	noGateway := spec
	noGateway.Gateway = netip.Addr{}
	if err := noGateway.Validate(); !errors.Is(err, ErrIncompleteSpec) {
		t.Errorf("Validate() = %v, want ErrIncompleteSpec", err)
	}
}
