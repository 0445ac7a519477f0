package role

import (
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
)

var (
	permissionTag = "permission"
)

// InitValidators registers the role validators. The `permission` tag accepts the values valid in perms.
func InitValidators(validate *validator.Validate, translator ut.Translator, perms *permission.Registry) {
	_ = validate.RegisterValidation(permissionTag, func(fl validator.FieldLevel) bool {
		return perms.Validate(permission.Value(fl.Field().Int())) == nil
	})
	core.RegisterCustomTranslation(validate, translator, permissionTag,
		fmt.Sprintf("permission must be 0 (unrestricted) or a combination of defined permissions up to %d", perms.Aggregate()))
}
