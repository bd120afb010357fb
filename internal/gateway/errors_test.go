package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"transient", NewTransient("interpay", "api_error", "server blew up"), ClassTransient},
		{"permanent", NewPermanent("interpay", "card_declined", "no funds"), ClassPermanent},
		{"wrapped", fmt.Errorf("charge attempt: %w", NewTransient("israpay", "101", "comms")), ClassTransient},
		{"plain error", errors.New("something else"), ClassUnknown},
		{"nil-ish", fmt.Errorf("oops"), ClassUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassOf(tc.err))
		})
	}
}

func TestWrapTransport(t *testing.T) {
	err := WrapTransport("interpay", context.DeadlineExceeded)
	assert.Equal(t, CodeTimeout, err.Code)
	assert.Equal(t, ClassTransient, err.Class)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	err = WrapTransport("interpay", errors.New("connection refused"))
	assert.Equal(t, CodeConnection, err.Code)
	assert.True(t, IsTransient(err))
}

func TestIsCircuitOpen(t *testing.T) {
	assert.True(t, IsCircuitOpen(NewTransient("interpay", CodeCircuitOpen, "open")))
	assert.False(t, IsCircuitOpen(NewTransient("interpay", CodeTimeout, "timeout")))
	assert.False(t, IsCircuitOpen(errors.New("nope")))
}
