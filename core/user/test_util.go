package user

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
)

type serviceMock struct {
	*service
}

// NewServiceMock returns a Service that sends password reset mails synchronously.
func NewServiceMock(
	store core.Store,
	repo Repository,
	roles role.Repository,
	perms *permission.Registry,
	validate *validator.Validate,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	return &serviceMock{service: newService(store, repo, roles, perms, validate, mailSvc, conf, logger)}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.CanLogin() {
		return ErrNotFound
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}

// MakePasswordResetToken exposes the reset token of usr to tests of other packages.
func (svc *serviceMock) MakePasswordResetToken(usr User) string {
	return svc.tokens.makeToken(usr)
}
