package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTumblingAssigner(t *testing.T) {
	assigner, err := NewTumblingAssigner("clicks", 5*time.Second, 0)
	require.NoError(t, err)

	instances := assigner.AssignInstances("clicks-0", 7000)
	require.Len(t, instances, 1)
	assert.EqualValues(t, 5000, instances[0].StartTime())
	assert.EqualValues(t, 10000, instances[0].EndTime())
	assert.EqualValues(t, 10000, instances[0].FireTime())
	assert.Equal(t, "clicks-0", instances[0].SplitId())

	instances = assigner.AssignInstances("clicks-0", -1)
	assert.EqualValues(t, -5000, instances[0].StartTime())
	assert.EqualValues(t, 0, instances[0].EndTime())
}

func TestTumblingAssignerWithOffset(t *testing.T) {
	assigner, err := NewTumblingAssigner("clicks", 5*time.Second, time.Second)
	require.NoError(t, err)
	instances := assigner.AssignInstances("clicks-0", 500)
	assert.EqualValues(t, -4000, instances[0].StartTime())
	assert.EqualValues(t, 1000, instances[0].EndTime())
}

func TestTumblingAssignerIllegalParameter(t *testing.T) {
	_, err := NewTumblingAssigner("clicks", 0, 0)
	assert.Error(t, err)
	_, err = NewTumblingAssigner("clicks", time.Second, time.Microsecond)
	assert.Error(t, err)
}
