package error_telemetry

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallChainsPriorHandler(t *testing.T) {
	col := newCollector(http.StatusOK)
	defer col.server.Close()

	c, err := New(serverOverrides(col.server.URL))
	require.NoError(t, err)
	defer closeClient(t, c)

	hook := NewGlobalHook()

	var priorSignals []CaptureSignal
	hook.SetHandler(func(sig CaptureSignal) bool {
		priorSignals = append(priorSignals, sig)
		return false
	})

	uninstall := c.Install(hook, TypeUncaught)

	suppressed := hook.Dispatch(CaptureSignal{Message: "boom"})
	flushClient(t, c)

	assert.True(t, suppressed, "an enabled client requests suppression")
	require.Len(t, priorSignals, 1, "the prior handler still runs")
	assert.Equal(t, "boom", priorSignals[0].Message)
	assert.Equal(t, 1, col.count())

	uninstall()

	// After uninstall only the prior handler remains.
	suppressed = hook.Dispatch(CaptureSignal{Message: "again"})
	flushClient(t, c)
	assert.False(t, suppressed)
	assert.Len(t, priorSignals, 2)
	assert.Equal(t, 1, col.count())
}

func TestInstallSuppressionORSemantics(t *testing.T) {
	c, err := New(Overrides{LogToConsole: ptr(false)})
	require.NoError(t, err)
	defer closeClient(t, c)

	hook := NewGlobalHook()
	hook.SetHandler(func(CaptureSignal) bool { return true })

	uninstall := c.Install(hook, TypeUncaught)
	defer uninstall()

	c.Disable()
	assert.True(t, hook.Dispatch(CaptureSignal{Message: "x"}),
		"prior handler suppression survives even when the client declines")
}

func TestInstallOnEmptyHook(t *testing.T) {
	c, err := New(Overrides{LogToConsole: ptr(false)})
	require.NoError(t, err)
	defer closeClient(t, c)

	hook := NewGlobalHook()
	uninstall := c.Install(hook, TypeUnhandledRejection)

	assert.True(t, hook.Dispatch(CaptureSignal{Message: "rejected"}))

	uninstall()
	assert.Nil(t, hook.Handler())
	assert.False(t, hook.Dispatch(CaptureSignal{Message: "rejected"}))
}

func TestInstallSetsSignalType(t *testing.T) {
	c, err := New(Overrides{LogToConsole: ptr(false), ThrottleTime: ptr(time.Duration(0))})
	require.NoError(t, err)
	defer closeClient(t, c)

	var types []CaptureType
	c.UpdateConfig(Overrides{OnError: func(rec *ErrorRecord) { types = append(types, rec.Type) }})

	hook := NewGlobalHook()
	uninstall := c.Install(hook, TypeUncaught)
	defer uninstall()

	hook.Dispatch(CaptureSignal{Message: "boom"})
	hook.Dispatch(CaptureSignal{Type: TypeManual, Message: "kept"})

	require.Len(t, types, 2)
	assert.Equal(t, TypeUncaught, types[0])
	assert.Equal(t, TypeManual, types[1], "an explicit type on the signal is preserved")
}
