package apperr

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := errors.Wrap(NotFound("course", "c1"), "load courses")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "entity and id",
			err:  NotFound("order", "o1"),
			want: "order o1: not found",
		},
		{
			name: "reason",
			err:  CouponInvalid("cp1", "EXPIRED"),
			want: "coupon cp1: coupon invalid (EXPIRED)",
		},
		{
			name: "explicit message",
			err:  ReasonRequired(),
			want: "a reason is required when rejecting a payment",
		},
		{
			name: "upstream with cause",
			err:  Upstream("gateway", errors.New("timeout")),
			want: "gateway unavailable: timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestInvalid(t *testing.T) {
	var v Invalid
	require.NoError(t, v.Err())

	v.Add("courseIds", "required")
	v.Add("courseIds", "ignored")
	v.Add("couponId", "malformed")

	err := v.Err()
	require.Error(t, err)

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidInput, e.Kind)
	assert.Equal(t, map[string]string{"courseIds": "required", "couponId": "malformed"}, e.Fields)
	assert.Equal(t, "invalid input; couponId: malformed; courseIds: required", e.Error())
}

func TestKind_Business(t *testing.T) {
	assert.True(t, KindNotFound.Business())
	assert.True(t, KindConcurrentUpdate.Business())
	assert.False(t, KindUpstreamUnavailable.Business())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
