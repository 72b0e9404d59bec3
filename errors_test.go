package courier_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", courier.ErrNoData)

	assert.True(t, courier.IsNoData(courier.ErrNoData))
	assert.True(t, courier.IsNoData(wrapped))
	assert.False(t, courier.IsNoData(errors.New("boom")))
	assert.False(t, courier.IsNoData(nil))

	dup := courier.NewErrorWithCause(courier.ErrCodeDatabase, "insert", courier.ErrDuplicateKey)
	assert.True(t, courier.IsDuplicateKey(courier.ErrDuplicateKey))
	assert.Equal(t, courier.ErrCodeDatabase, courier.ErrorCode(dup))

	conflict := courier.NewError(courier.ErrCodeConflict, "key reused")
	assert.True(t, courier.IsConflict(fmt.Errorf("dispatch: %w", conflict)))
	assert.False(t, courier.IsNotFound(conflict))
	assert.Equal(t, "", courier.ErrorCode(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := courier.NewErrorWithCause(courier.ErrCodeProvider, "send failed", errors.New("421"))
	assert.Equal(t, "PROVIDER_ERROR: send failed: 421", err.Error())
	assert.Equal(t, "NOT_FOUND: gone", courier.NewError(courier.ErrCodeNotFound, "gone").Error())
}

func TestForwardOnlyPolicy(t *testing.T) {
	p := courier.ForwardOnlyPolicy{}

	tests := []struct {
		from, to model.MessageStatus
		want     bool
	}{
		{model.StatusSent, model.StatusDelivered, true},
		{model.StatusDelivered, model.StatusClicked, true},
		{model.StatusClicked, model.StatusDelivered, false},
		{model.StatusOpened, model.StatusOpened, false},
		{model.StatusBounced, model.StatusSent, false},
		{model.StatusFailed, model.StatusSent, true},
		{model.StatusDelivered, model.StatusComplained, true},
		{model.StatusBounced, model.StatusComplained, false},
		{"legacy", model.StatusDelivered, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allow(tt.from, tt.to))
		})
	}

	assert.True(t, courier.PermissivePolicy{}.Allow(model.StatusClicked, model.StatusDelivered))
}
