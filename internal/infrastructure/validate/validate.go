// Package validate wraps go-playground/validator with messages fit for API
// responses.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		// Report the json/form name so messages match what the client sent.
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
	return instance
}

// Struct validates s against its `validate` tags. The returned error lists
// every failing field.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, message(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: this field is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be no more than %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s: must be a valid email address", fe.Field())
	case "alphanum":
		return fmt.Sprintf("%s: must contain only letters and numbers", fe.Field())
	default:
		return fmt.Sprintf("%s: failed %q validation", fe.Field(), fe.Tag())
	}
}
