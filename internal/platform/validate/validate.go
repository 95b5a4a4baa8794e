package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every field validation failure.
var ErrInvalid = errors.New("validation failed")

var v = validator.New(validator.WithRequiredStructEnabled())

// Struct checks the `validate` tags on value.
func Struct(value any) error {
	if err := v.Struct(value); err != nil {
		return describe(value, err)
	}
	return nil
}

func describe(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %T: %s", ErrInvalid, input, strings.Join(msgs, "; "))
}
