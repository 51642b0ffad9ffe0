package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortex-backend/pkg/errors"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	c := &Container{}

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		c.addShutdown(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdownKeepsGoingAfterFailure(t *testing.T) {
	c := &Container{}

	var ran []string
	c.addShutdown(func(context.Context) error {
		ran = append(ran, "closer")
		return nil
	})
	c.addShutdown(func(context.Context) error {
		ran = append(ran, "broken")
		return errors.NewInternal("close failed", nil)
	})

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 errors")
	assert.Equal(t, []string{"broken", "closer"}, ran)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := &Container{}

	calls := 0
	c.addShutdown(func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}
