package format

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var ErrInvalidOption = errors.New("invalid format option")

// validate is shared by every plugin decoding its option bag.
var validate = validator.New()

// DecodeOptions decodes a request option bag into out, a pointer to a struct
// with mapstructure and validate tags. String values from the command line
// are converted to the field types. Keys without a matching field are
// ignored, so one bag can carry reader and writer options.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%w: %s: validation failed on '%s' tag (value: %v)", ErrInvalidOption, e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	return nil
}
