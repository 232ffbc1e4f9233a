package monitor

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersUsableBeforeStart(t *testing.T) {
	before := testutil.ToFloat64(GRPCTotal)
	GRPCTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(GRPCTotal))

	WSFrames.Inc()
	WSFrames.Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(WSFrames), 2.0)

	SessionsActive.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(SessionsActive))
	SessionsActive.Set(0)
}

func TestCheckProcessInfo(t *testing.T) {
	GotPID()
	assert.Equal(t, int32(os.Getpid()), PID.Pid)

	CheckProcessInfo()
	assert.Greater(t, testutil.ToFloat64(memUsage), 0.0, "RSS of a running test binary is nonzero")
}
