package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"forbidden", Forbidden("not admin"), KindForbidden},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("conversation not found")), KindNotFound},
		{"foreign error", errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("op: %w", InvalidArgument("group name is required"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestMessageOfHidesInternalCause(t *testing.T) {
	cause := errors.New("pebble: closed")
	err := Internal(cause, "failed to save message")

	assert.Equal(t, "internal error", MessageOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "only the sender can delete a message", MessageOf(Forbidden("only the sender can delete a message")))
}
