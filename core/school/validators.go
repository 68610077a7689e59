package school

import (
	"reflect"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/azardenmark/dashboard-sub000/core"
)

var (
	ageRangeTag  = "agerange"
	ageRangeText = "{0} must hold age ranges such as 3-4 (ages 0 to 18)"
)

// RegisterValidators registers the tags used by the entity inputs. The translation is only
// registered when translator is not nil.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(ageRangeTag, ageRangeValidation)
	if translator != nil {
		core.RegisterCustomTranslation(validate, translator, ageRangeTag, ageRangeText)
	}
}

// ageRangeValidation accepts a label or a slice of labels that ParseAgeRange understands.
func ageRangeValidation(fl validator.FieldLevel) bool {
	field := fl.Field()
	switch field.Kind() {
	case reflect.String:
		_, err := ParseAgeRange(field.String())
		return err == nil
	case reflect.Slice:
		for i := 0; i < field.Len(); i++ {
			if field.Index(i).Kind() != reflect.String {
				return false
			}
			if _, err := ParseAgeRange(field.Index(i).String()); err != nil {
				return false
			}
		}
		return true
	}
	return false
}
