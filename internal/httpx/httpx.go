// Package httpx holds the small helpers every gin handler shares: error
// registration, request binding and the acting user.
package httpx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

const currentUserKey = "chromepass.user"

// Fail records err on the context and stops the chain. The router's error
// middleware writes the response.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON decodes and validates the body into dst. On failure it has
// already called Fail and returns false.
func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		Fail(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		return apperror.Validation(fieldMessage(ves[0]))
	}
	return apperror.Validation("Invalid request body")
}

func fieldMessage(fe validator.FieldError) string {
	name := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "email":
		return name + " must be a valid email address"
	case "min":
		if fe.Kind().String() == "slice" {
			return fmt.Sprintf("%s must contain at least %s item(s)", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "url":
		return name + " must be a valid URL"
	default:
		return name + " is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// ParamID parses a positive integer path parameter.
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		Fail(c, apperror.Validationf("Invalid %s", name))
		return 0, false
	}
	return id, true
}

// QueryID parses an optional positive integer query parameter.
func QueryID(c *gin.Context, name string) (*int64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		Fail(c, apperror.Validationf("Invalid %s", name))
		return nil, false
	}
	return &id, true
}

func SetCurrentUser(c *gin.Context, u *userentity.User) { c.Set(currentUserKey, u) }

// CurrentUser returns the user loaded by the auth middleware, or nil.
func CurrentUser(c *gin.Context) *userentity.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*userentity.User)
	return u
}
