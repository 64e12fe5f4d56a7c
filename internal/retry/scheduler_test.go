package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_LinearInFailCount(t *testing.T) {
	base := 15 * time.Minute
	assert.Equal(t, 15*time.Minute, Delay(1, base))
	assert.Equal(t, 30*time.Minute, Delay(2, base))
	assert.Equal(t, 75*time.Minute, Delay(5, base))
}

func TestDelay_ZeroFailCountIsNoDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(0, 15*time.Minute))
}
