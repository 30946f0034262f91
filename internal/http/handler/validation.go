package handler

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	must(v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}))
	// bcrypt reads at most 72 bytes, and max= counts runes.
	must(v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= limit
	}))
	must(v.RegisterValidation("letterdigit", func(fl validator.FieldLevel) bool {
		var letter, digit bool
		for _, r := range fl.Field().String() {
			switch {
			case unicode.IsLetter(r):
				letter = true
			case unicode.IsDigit(r):
				digit = true
			}
		}
		return letter && digit
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// fieldErrors collects per-field validation messages keyed by JSON name.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) empty() bool { return len(f) == 0 }

func check(req any) fieldErrors {
	errs := fieldErrors{}
	var verrs validator.ValidationErrors
	if errors.As(validate.Struct(req), &verrs) {
		for _, fe := range verrs {
			errs.add(fe.Field(), message(fe))
		}
	}
	return errs
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "username":
		return "must be 3-30 characters of letters, digits or underscore"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "maxbytes":
		return "must be at most " + fe.Param() + " bytes"
	case "letterdigit":
		return "must contain at least one letter and one digit"
	case "nefield":
		return "must differ from the current password"
	}
	return "is invalid"
}

type registerRequest struct {
	Username  string `json:"username" validate:"username"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,maxbytes=72,letterdigit"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

func (r *registerRequest) validate() fieldErrors {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	return check(r)
}

type loginRequest struct {
	Email      string `json:"email" validate:"required_without=Username"`
	Username   string `json:"username"`
	Password   string `json:"password" validate:"required,maxbytes=72"`
	RememberMe bool   `json:"rememberMe"`
}

func (r *loginRequest) identifier() string {
	if id := strings.TrimSpace(r.Email); id != "" {
		return id
	}
	return strings.TrimSpace(r.Username)
}

func (r *loginRequest) validate() fieldErrors {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	return check(r)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,maxbytes=72"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,maxbytes=72,letterdigit,nefield=CurrentPassword"`
}

func (r *changePasswordRequest) validate() fieldErrors {
	return check(r)
}
