package kerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOK(t *testing.T) {
	assert.True(t, Success.OK())
	assert.False(t, Failed.OK())
	assert.False(t, Timeout.OK())
}

func TestCodeError(t *testing.T) {
	assert.Equal(t, "timeout", Timeout.Error())
	assert.Equal(t, "caller does not own this object", SyncNotOwner.Error())

	unknown := Code(9999)
	assert.Contains(t, unknown.Error(), "unknown code")
}

func TestCodeIsError(t *testing.T) {
	var err error = InvalidParam
	assert.EqualError(t, err, "invalid parameter")
}

func TestAsCode(t *testing.T) {
	c, ok := AsCode(Timeout)
	assert.True(t, ok)
	assert.Equal(t, Timeout, c)

	c, ok = AsCode(nil)
	assert.True(t, ok)
	assert.Equal(t, Success, c)

	_, ok = AsCode(assert.AnError)
	assert.False(t, ok)
}
