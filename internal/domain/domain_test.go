package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_NormalizeEmailIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalizing twice equals normalizing once", prop.ForAll(
		func(local, host string, upper bool) bool {
			raw := "  " + local + "@" + host + ".com "
			if upper {
				raw = strings.ToUpper(raw)
			}

			once, err := NormalizeEmail(raw)
			if err != nil {
				t.Logf("FAIL: %q: %v", raw, err)
				return false
			}
			twice, err := NormalizeEmail(once)
			if err != nil || twice != once || once != strings.ToLower(once) {
				t.Logf("FAIL: %q -> %q -> %q (%v)", raw, once, twice, err)
				return false
			}
			return true
		},
		gen.RegexMatch(`[a-z]{1,10}`),
		gen.RegexMatch(`[a-z]{2,10}`),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestNormalizeEmail_Rejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "no-at-sign", "Ann <ann@example.com>", "a@b@c"} {
		_, err := NormalizeEmail(raw)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "email" {
			t.Errorf("%q: got %v", raw, err)
		}
	}
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := ParseID("product_id", id.String())
	if err != nil || got != id {
		t.Errorf("valid id: %v %v", got, err)
	}

	for _, raw := range []string{"", "p1", uuid.Nil.String()} {
		_, err := ParseID("product_id", raw)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "product_id" {
			t.Errorf("%q: got %v", raw, err)
		}
	}
}

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create booking: %w", NewValidationError("buyer_email", "is malformed"))

	if !errors.Is(err, ErrValidation) {
		t.Error("wrapped ValidationError does not match ErrValidation")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("ValidationError matched ErrNotFound")
	}
	if !strings.Contains(err.Error(), "buyer_email is malformed") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestEnums(t *testing.T) {
	if !RoleSeller.Valid() || Role("owner").Valid() {
		t.Error("Role.Valid")
	}
	if !ProductSold.Valid() || ProductStatus("reserved").Valid() {
		t.Error("ProductStatus.Valid")
	}
	if !BookingPending.Valid() || BookingStatus("cancelled").Valid() {
		t.Error("BookingStatus.Valid")
	}
	if !(&Product{Status: ProductAvailable}).Available() || (&Product{Status: ProductSold}).Available() {
		t.Error("Product.Available")
	}
}
