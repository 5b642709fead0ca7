package chatsync

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateInput(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
