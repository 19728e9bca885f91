package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerLifecycle(t *testing.T) {
	c := NewController()
	assert.Equal(t, StateIdle, c.State())

	called := 0
	c.Open(Info{StudentID: uuid.New(), Token: "tok"}, func(context.Context) error {
		called++
		return nil
	})
	assert.Equal(t, StateOpen, c.State())

	info, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "tok", info.Token)

	require.NoError(t, c.Succeed(context.Background()))
	assert.Equal(t, 1, called)
	assert.Equal(t, StateIdle, c.State())

	_, ok = c.Current()
	assert.False(t, ok)
}

func TestSucceedWithoutSession(t *testing.T) {
	c := NewController()
	assert.ErrorIs(t, c.Succeed(context.Background()), ErrNoSession)
}

func TestSucceedRunsCallbackOnce(t *testing.T) {
	c := NewController()
	called := 0
	c.Open(Info{}, func(context.Context) error {
		called++
		return nil
	})

	require.NoError(t, c.Succeed(context.Background()))
	assert.ErrorIs(t, c.Succeed(context.Background()), ErrNoSession)
	assert.Equal(t, 1, called)
}

func TestCallbackErrorStillCloses(t *testing.T) {
	c := NewController()
	boom := errors.New("authorization failed")
	c.Open(Info{}, func(context.Context) error { return boom })

	assert.ErrorIs(t, c.Succeed(context.Background()), boom)
	assert.Equal(t, StateIdle, c.State())
}

func TestOpenReplacesPendingCallback(t *testing.T) {
	c := NewController()
	var ran string
	c.Open(Info{Token: "first"}, func(context.Context) error {
		ran = "first"
		return nil
	})
	c.Open(Info{Token: "second"}, func(context.Context) error {
		ran = "second"
		return nil
	})

	require.NoError(t, c.Succeed(context.Background()))
	assert.Equal(t, "second", ran)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewController()
	c.Open(Info{Token: "tok"}, func(context.Context) error { return nil })
	c.Close()
	c.Close()
	assert.Equal(t, StateIdle, c.State())
	assert.ErrorIs(t, c.Succeed(context.Background()), ErrNoSession)
}
