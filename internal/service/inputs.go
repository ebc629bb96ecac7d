package service

import (
	"errors"
	"strings"
	"unicode"

	"oldruby-market/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProductInput holds the caller-supplied fields of a new listing. Status and
// moderation flags are never taken from the caller.
type ProductInput struct {
	SellerEmail   string  `validate:"required,email"`
	CategoryID    string  `validate:"required,uuid"`
	Name          string  `validate:"required,max=255"`
	Description   string  `validate:"max=5000"`
	ImageURL      string  `validate:"omitempty,url,max=500"`
	Location      string  `validate:"max=255"`
	Condition     string  `validate:"omitempty,oneof=excellent good fair"`
	Phone         string  `validate:"max=50"`
	OriginalPrice float64 `validate:"gte=0"`
	ResalePrice   float64 `validate:"gt=0"`
	YearsOfUse    int     `validate:"gte=0,lte=100"`
}

// BookingInput holds the caller-supplied fields of an offer
type BookingInput struct {
	ProductID       string `validate:"required,uuid"`
	BuyerEmail      string `validate:"required,email"`
	BuyerName       string `validate:"max=255"`
	Phone           string `validate:"max=50"`
	MeetingLocation string `validate:"max=255"`
}

// PaymentInput identifies the booking paid for. TransactionID is the
// confirmation token returned by the payment gateway and is passed through.
type PaymentInput struct {
	BookingID     string `validate:"required,uuid"`
	ProductID     string `validate:"required,uuid"`
	TransactionID string `validate:"required,max=255"`
}

// CategoryInput describes a new category
type CategoryInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=1000"`
}

// validateInput runs struct validation and reports the first failing field
// as a domain.ValidationError.
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return domain.NewValidationError(toSnake(fe.Field()), reason(fe))
	}
	return domain.NewValidationError("", err.Error())
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is not a valid email"
	case "uuid":
		return "is not a valid identifier"
	case "url":
		return "is not a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// toSnake maps Go field names to the wire names used in responses
func toSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
