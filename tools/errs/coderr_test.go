package errs

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCodeAcrossCopies(t *testing.T) {
	err := ErrMembershipDenied.WithDetail("room-7")
	assert.True(t, errors.Is(err, ErrMembershipDenied))
	assert.False(t, errors.Is(err, ErrUnknownConnection))
}

func TestIsSurvivesStackWrapping(t *testing.T) {
	err := ErrPersistenceFailure.WrapMsg("write timeout")
	assert.True(t, errors.Is(err, ErrPersistenceFailure))

	rewrapped := pkgerrors.Wrap(err, "while routing")
	assert.True(t, errors.Is(rewrapped, ErrPersistenceFailure))
}

func TestWithDetailLeavesPredefinedUntouched(t *testing.T) {
	_ = ErrInternal.WithDetail("boom")
	assert.Empty(t, ErrInternal.Detail)

	twice := ErrInternal.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", twice.Detail)
}

func TestCodeExtraction(t *testing.T) {
	assert.Equal(t, CodeSequenceFailure, Code(ErrSequenceFailure.WrapMsg("redis down")))
	assert.Equal(t, 0, Code(errors.New("plain")))
	assert.Equal(t, 0, Code(nil))
}

func TestErrorStringIncludesDetail(t *testing.T) {
	err := ErrTooManyConnections.WithDetail("user u1")
	assert.Contains(t, err.Error(), "1409")
	assert.Contains(t, err.Error(), "user u1")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	assert.NoError(t, WrapMsg(nil, "ignored"))
}
