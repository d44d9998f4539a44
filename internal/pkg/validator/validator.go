package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Validator instance
var validate *validator.Validate

// supportedPayCurrencies are the coins a deposit may be paid with.
var supportedPayCurrencies = []string{"usdttrc20", "usdterc20", "usdtbsc", "usdtsol", "usdtmatic"}

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Positive decimal amount given as string, e.g. "25.50"
	validate.RegisterValidation("usdt_amount", func(fl validator.FieldLevel) bool {
		v, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
		if err != nil {
			return false
		}
		return v.IsPositive() && v.Exponent() >= -8
	})

	validate.RegisterValidation("pay_currency", func(fl validator.FieldLevel) bool {
		c := strings.ToLower(fl.Field().String())
		if c == "" {
			return true
		}
		for _, s := range supportedPayCurrencies {
			if c == s {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "usdt_amount":
			errors[field] = "Amount must be a positive number with at most 8 decimals"
		case "pay_currency":
			errors[field] = "Unsupported currency. Must be one of: " + strings.Join(supportedPayCurrencies, ", ")
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
