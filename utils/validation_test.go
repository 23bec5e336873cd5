package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRoleInput struct {
	Name        string   `json:"name" validate:"required,min=2,max=64"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permission_ids" validate:"omitempty,dive,uuid"`
}

type tenantInput struct {
	Slug  string `json:"slug" validate:"required,slug"`
	Email string `json:"email" validate:"required,email"`
}

type permissionInput struct {
	Resource string `json:"resource" validate:"required,permpart"`
	Action   string `json:"action" validate:"required,permpart"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		in := createRoleInput{Name: "shift-manager", Permissions: []string{"550e8400-e29b-41d4-a716-446655440000"}}
		assert.NoError(t, ValidateStruct(&in))
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		err := ValidateStruct(&createRoleInput{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "name is required", fields["name"])
	})

	t.Run("invalid uuid inside slice", func(t *testing.T) {
		err := ValidateStruct(&createRoleInput{Name: "cashier", Permissions: []string{"nope"}})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "permission_ids[0]")
	})

	t.Run("slug and email", func(t *testing.T) {
		err := ValidateStruct(&tenantInput{Slug: "Burger Express", Email: "not-an-email"})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["slug"], "lowercase")
		assert.Equal(t, "email must be a valid email", fields["email"])
	})

	t.Run("permission parts accept wildcard", func(t *testing.T) {
		assert.NoError(t, ValidateStruct(&permissionInput{Resource: "*", Action: "read"}))
		assert.NoError(t, ValidateStruct(&permissionInput{Resource: "order_item", Action: "*"}))
		assert.Error(t, ValidateStruct(&permissionInput{Resource: "Order", Action: "read"}))
	})
}

func TestSlugTag(t *testing.T) {
	type slugged struct {
		Slug string `json:"slug" validate:"slug"`
	}

	tests := []struct {
		slug    string
		wantErr bool
	}{
		{"burgerexpress", false},
		{"pizza-hub-2", false},
		{"Pizza", true},
		{"-leading", true},
		{"double--dash", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			err := ValidateStruct(&slugged{Slug: tt.slug})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewValidationError_Messages(t *testing.T) {
	type settings struct {
		Currency string `json:"currency" validate:"len=3"`
		Domain   string `json:"domain" validate:"omitempty,fqdn"`
		Limit    int    `json:"limit" validate:"lte=10"`
	}

	err := ValidateStruct(&settings{Currency: "EURO", Domain: "not a domain", Limit: 11})
	require.Error(t, err)

	fields := GetValidationFields(err)
	assert.Equal(t, "currency must be exactly 3 characters", fields["currency"])
	assert.Equal(t, "domain must be a fully qualified domain name", fields["domain"])
	assert.Equal(t, "limit must be less than or equal to 10", fields["limit"])
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Test validation error", Fields: map[string]string{"field1": "error1"}}
	assert.Equal(t, "Test validation error", err.Error())
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{"field1": "error1"}
		err := &ValidationError{Message: "test", Fields: fields}
		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
		assert.False(t, IsValidationError(assert.AnError))
	})
}
