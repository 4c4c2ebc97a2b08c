package request

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDuration(t *testing.T) {
	assert.NoError(t, ValidateDuration(1))
	assert.NoError(t, ValidateDuration(0.5))
	assert.NoError(t, ValidateDuration(720))

	assert.Error(t, ValidateDuration(0))
	assert.Error(t, ValidateDuration(-1))
	assert.Error(t, ValidateDuration(721))
}

func TestValidateAccountID(t *testing.T) {
	assert.NoError(t, ValidateAccountID("123456789012"))

	assert.Error(t, ValidateAccountID(""))
	assert.Error(t, ValidateAccountID("12345678901"))
	assert.Error(t, ValidateAccountID("1234567890123"))
	assert.Error(t, ValidateAccountID("12345678901a"))
}

func TestValidateARN(t *testing.T) {
	assert.NoError(t, ValidateARN("arn:aws:sso:::instance/ssoins-1234"))
	assert.NoError(t, ValidateARN("arn:aws:sso:::permissionSet/ssoins-1234/ps-5678"))

	assert.Error(t, ValidateARN(""))
	assert.Error(t, ValidateARN("not-an-arn"))
	assert.Error(t, ValidateARN("arn:aws:sso"))
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidateAccountID("oops")
	assert.True(t, strings.HasPrefix(err.Error(), "invalid account id"))
}

func TestNewIDIsUniqueAndPrefixed(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.True(t, strings.HasPrefix(a, "bnd_"))
	assert.NotEqual(t, a, b)
}

func TestExpired(t *testing.T) {
	now := time.Unix(1770000000, 0)
	req := Request{ExpiresAt: now.Unix() - 1}
	assert.True(t, req.Expired(now))

	req.ExpiresAt = now.Unix() + 1
	assert.False(t, req.Expired(now))
}
