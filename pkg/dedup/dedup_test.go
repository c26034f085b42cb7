package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcessWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	d := New(time.Minute, 10).WithClock(func() time.Time { return now })

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))

	now = now.Add(61 * time.Second)
	assert.True(t, d.ShouldProcess("a"))
}

func TestEvictionKeepsBound(t *testing.T) {
	now := time.Unix(0, 0)
	d := New(time.Hour, 3).WithClock(func() time.Time { return now })

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		now = now.Add(time.Second)
		assert.True(t, d.ShouldProcess(k))
	}
	assert.Equal(t, 3, d.Len())
	// oldest keys were evicted
	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("e"))
}

func TestKey(t *testing.T) {
	a := Key([]byte("topic"), []byte("payload"))
	assert.Equal(t, a, Key([]byte("topic"), []byte("payload")))
	assert.NotEqual(t, a, Key([]byte("topicp"), []byte("ayload")))
	assert.Len(t, a, 40)
}
