package partops_test

import (
	"context"
	"testing"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/partops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceUnmountSignalsEveryBusyProcessBeforeRetrying(t *testing.T) {
	engine, _ := newEngine(t)
	var signalled []int

	_, err := partops.ForceUnmount(context.Background(), engine, bus.New(), "dXsY",
		[]model.BusyProcess{{PID: 111, Command: "a"}, {PID: 222, Command: "b"}},
		func(pid int) error {
			signalled = append(signalled, pid)
			return nil
		},
	)
	// umount itself is not installed in the sandbox, so the retry fails --
	// what this test verifies is that every busy pid was signalled first.
	require.Error(t, err)
	assert.ElementsMatch(t, []int{111, 222}, signalled)
}

func TestForceUnmountHonoursCancellationDuringGrace(t *testing.T) {
	engine, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := partops.ForceUnmount(ctx, engine, bus.New(), "dXsY",
		[]model.BusyProcess{{PID: 1}},
		func(pid int) error { return nil },
	)
	require.Error(t, err)
}
