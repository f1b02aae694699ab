package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if kms := cfg.S3.SSE == "aws:kms" || cfg.S3.SSE == "sse-kms"; !kms && cfg.S3.SSEKMSKeyID != "" {
		return fmt.Errorf("s3: sse_kms_key_id is set but sse is %q", cfg.S3.SSE)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
