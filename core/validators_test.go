package core_test

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
)

func TestNewValidator(t *testing.T) {
	type contact struct {
		Name  string `json:"name" validate:"required,notblank"`
		Phone string `json:"phone" validate:"omitempty,phone"`
	}
	validate, translator := core.NewValidator()

	tests := []struct {
		name  string
		input contact
		want  map[string]string // field -> translated message
	}{
		{name: "valid", input: contact{Name: "Amina", Phone: "+243 81-234 5678"}},
		{name: "no phone", input: contact{Name: "Amina"}},
		{name: "missing name", input: contact{}, want: map[string]string{"name": "this field is required"}},
		{name: "blank name", input: contact{Name: "   "}, want: map[string]string{"name": "this field cannot be blank"}},
		{
			name:  "bad phone",
			input: contact{Name: "Amina", Phone: "call me"},
			want:  map[string]string{"phone": "phone must be a phone number such as +243 81 234 5678"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.input)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			got := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
