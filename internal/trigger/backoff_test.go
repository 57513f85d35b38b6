package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindBackoff_Exponential(t *testing.T) {
	b := NewBindBackoff(time.Second, time.Minute)
	err := errors.New("address already in use")

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		time.Minute,
		time.Minute,
	}
	for i, w := range want {
		assert.Equal(t, w, b.RecordFailure("a", err), "failure %d", i+1)
	}
	assert.Equal(t, time.Minute, b.Delay("a"))

	st := b.Status("a")
	require.NotNil(t, st)
	assert.Equal(t, len(want), st.Count)
	assert.Equal(t, "address already in use", st.LastError)
	assert.False(t, st.FirstFailure.After(st.LastFailure))
}

func TestBindBackoff_PerListener(t *testing.T) {
	b := NewBindBackoff(100*time.Millisecond, time.Second)

	b.RecordFailure("a", nil)
	b.RecordFailure("a", nil)
	assert.Equal(t, 100*time.Millisecond, b.RecordFailure("b", nil))
	assert.Equal(t, 200*time.Millisecond, b.Delay("a"))
}

func TestBindBackoff_SuccessResets(t *testing.T) {
	b := NewBindBackoff(time.Second, time.Minute)
	b.RecordFailure("a", nil)
	b.RecordFailure("a", nil)

	b.RecordSuccess("a")

	assert.Nil(t, b.Status("a"))
	assert.Equal(t, time.Duration(0), b.Delay("a"))
	assert.Equal(t, time.Second, b.RecordFailure("a", nil))
}

func TestNewBindBackoff_Bounds(t *testing.T) {
	b := NewBindBackoff(0, 0)
	assert.Equal(t, time.Second, b.RecordFailure("a", nil))
	assert.Equal(t, time.Second, b.RecordFailure("a", nil))

	b = NewBindBackoff(5*time.Second, time.Second)
	assert.Equal(t, 5*time.Second, b.RecordFailure("a", nil))
	assert.Equal(t, 5*time.Second, b.RecordFailure("a", nil))
}
