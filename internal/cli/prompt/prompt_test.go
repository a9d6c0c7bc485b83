package prompt

import (
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"5672", false},
		{" 1 ", false},
		{"65535", false},
		{"0", true},
		{"65536", true},
		{"amqp", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if tt.wantErr {
				assert.Error(t, ValidatePort(tt.in))
			} else {
				assert.NoError(t, ValidatePort(tt.in))
			}
		})
	}
}

func TestConfirmWithForce(t *testing.T) {
	t.Parallel()

	ok, err := ConfirmWithForce("purge?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, wrap(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrap(promptui.ErrEOF), ErrAborted)
	assert.Nil(t, wrap(nil))
}

func TestSelectWithoutOptions(t *testing.T) {
	t.Parallel()

	_, err := Select("store", nil)
	assert.Error(t, err)
}
