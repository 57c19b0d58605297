// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

const (
	adminPasswordKey = "admin-password"
	adminUser        = "admin"
	adminEmail       = "admin@example.com"

	createSuperUserScript = "/usr/bin/create_super_user.bash"

	passwordLength   = 12
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewPassword returns a random password of letters and digits drawn from
// crypto/rand.
func NewPassword() (string, error) {
	return newPassword(utils.RandomBytes)
}

// newPassword maps random bytes onto the alphabet, rejecting bytes past
// the largest multiple of the alphabet size so every character is
// equally likely.
func newPassword(randomBytes func(int) ([]byte, error)) (string, error) {
	limit := byte(256 - 256%len(passwordAlphabet))
	password := make([]byte, 0, passwordLength)
	for len(password) < passwordLength {
		buf, err := randomBytes(passwordLength)
		if err != nil {
			return "", errors.Annotate(err, "generating password")
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			password = append(password, passwordAlphabet[int(b)%len(passwordAlphabet)])
			if len(password) == passwordLength {
				break
			}
		}
	}
	return string(password), nil
}

func (c *Charm) runAction(ctx context.Context, name string) error {
	switch name {
	case GetAdminPasswordAction:
		return c.getAdminPassword(ctx)
	}
	return errors.Trace(c.tools.ActionFail("unknown action " + name))
}

func (c *Charm) getAdminPassword(ctx context.Context) error {
	if !c.workload.CanConnect() {
		return errors.Trace(c.tools.ActionFail(
			"The container is not ready yet. Please try again in a few minutes"))
	}
	password, err := c.adminPassword(ctx)
	if err != nil {
		logger.Errorf("failed to create the super user: %v", err)
		return errors.Trace(c.tools.ActionFail("Failed to create the admin user: " + err.Error()))
	}
	url, err := c.externalURL()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.tools.ActionSet(map[string]interface{}{
		"url":      url + "/admin/",
		"user":     adminUser,
		"password": password,
	}))
}

// adminPassword returns the admin password, creating the admin user the
// first time.
func (c *Charm) adminPassword(ctx context.Context) (string, error) {
	password, err := c.state.GetString(adminPasswordKey)
	if err != nil {
		return "", errors.Trace(err)
	}
	if password != "" {
		logger.Debugf("admin was already created, returning the stored password")
		return password, nil
	}
	logger.Debugf("admin password is not stored, generating a new one")
	password, err = c.config.NewPassword()
	if err != nil {
		return "", errors.Trace(err)
	}
	_, err = c.workload.Exec(ctx, []string{createSuperUserScript, "--noinput"}, map[string]string{
		"DJANGO_SUPERUSER_PASSWORD": password,
		"DJANGO_SUPERUSER_EMAIL":    adminEmail,
		"DJANGO_SUPERUSER_USERNAME": adminUser,
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return password, errors.Trace(c.state.Set(adminPasswordKey, password))
}
