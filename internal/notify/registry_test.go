package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/shared/logger"
)

func newTestRegistry(timeout time.Duration) *Registry {
	return NewRegistry(timeout, logger.NewDiscard())
}

func progress(jobID string, p int) domain.JobUpdate {
	return domain.NewProgressUpdate("user-1", jobID, p, time.Now())
}

func TestConn_Send(t *testing.T) {
	c := NewConn(1)

	require.NoError(t, c.Send(domain.Frame{Type: "a"}, 0))
	assert.ErrorIs(t, c.Send(domain.Frame{Type: "b"}, 0), domain.ErrSendTimeout)
	assert.ErrorIs(t, c.Send(domain.Frame{Type: "b"}, 10*time.Millisecond), domain.ErrSendTimeout)

	<-c.Out()
	c.Close()
	c.Close()
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Send(domain.Frame{Type: "c"}, time.Second), domain.ErrConnectionClosed)
}

func TestConn_SendWaitsForSpace(t *testing.T) {
	c := NewConn(1)
	require.NoError(t, c.Send(domain.Frame{Type: "first"}, 0))

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-c.Out()
	}()

	assert.NoError(t, c.Send(domain.Frame{Type: "second"}, time.Second))
}

func TestRegistry_BroadcastIsolatesFailedConnections(t *testing.T) {
	r := newTestRegistry(20 * time.Millisecond)

	healthy1 := NewConn(4)
	healthy2 := NewConn(4)
	full := NewConn(1)
	require.NoError(t, full.Send(domain.Frame{Type: "filler"}, 0))

	for _, c := range []*Conn{healthy1, full, healthy2} {
		require.NoError(t, r.Add("user-1", c))
	}
	require.Equal(t, 3, r.Count("user-1"))

	delivered := r.Broadcast("user-1", progress("job-1", 40))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, r.Count("user-1"))
	assert.True(t, full.Closed())

	for _, c := range []*Conn{healthy1, healthy2} {
		select {
		case f := <-c.Out():
			assert.Equal(t, domain.EventJobProgress, f.Type)
			assert.Equal(t, "job-1", f.JobID)
			require.NotNil(t, f.Progress)
			assert.Equal(t, 40, *f.Progress)
		default:
			t.Fatal("healthy connection did not receive the update")
		}
	}
}

func TestRegistry_BroadcastSkipsClosedConnection(t *testing.T) {
	r := newTestRegistry(time.Second)

	open := NewConn(2)
	gone := NewConn(2)
	require.NoError(t, r.Add("user-1", open))
	require.NoError(t, r.Add("user-1", gone))
	gone.Close()

	assert.Equal(t, 1, r.Broadcast("user-1", progress("job-1", 10)))
	assert.Equal(t, 1, r.Count("user-1"))
}

func TestRegistry_BroadcastOtherUsersUntouched(t *testing.T) {
	r := newTestRegistry(time.Second)

	mine := NewConn(2)
	theirs := NewConn(2)
	require.NoError(t, r.Add("user-1", mine))
	require.NoError(t, r.Add("user-2", theirs))

	assert.Equal(t, 1, r.Broadcast("user-1", progress("job-1", 10)))
	assert.Len(t, theirs.Out(), 0)
	assert.Equal(t, 0, r.Broadcast("nobody", progress("job-1", 10)))
}

func TestRegistry_RemoveCleansUp(t *testing.T) {
	r := newTestRegistry(time.Second)

	a := NewConn(1)
	b := NewConn(1)
	require.NoError(t, r.Add("user-1", a))
	require.NoError(t, r.Add("user-1", b))

	r.Remove("user-1", a)
	r.Remove("user-1", a)
	assert.Equal(t, 1, r.Count("user-1"))
	assert.True(t, a.Closed())

	r.Remove("user-1", b)
	assert.Equal(t, 0, r.Count("user-1"))
	assert.Empty(t, r.Users())

	r.Remove("user-1", b)
	r.Remove("never-seen", NewConn(1))
	assert.Empty(t, r.Users())
}

func TestRegistry_PreservesOrderPerConnection(t *testing.T) {
	r := newTestRegistry(time.Second)

	c := NewConn(1)
	require.NoError(t, r.Add("user-1", c))

	const n = 50
	received := make(chan []int, 1)
	go func() {
		var got []int
		for len(got) < n {
			f := <-c.Out()
			got = append(got, *f.Progress)
		}
		received <- got
	}()

	for i := 0; i < n; i++ {
		require.Equal(t, 1, r.Broadcast("user-1", progress("job-1", i)))
	}

	got := <-received
	for i := 0; i < n; i++ {
		assert.Equal(t, i, got[i])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry(5 * time.Millisecond)

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		userID := fmt.Sprintf("user-%d", u)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c := NewConn(2)
				if err := r.Add(userID, c); err != nil {
					return
				}
				r.Remove(userID, c)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Broadcast(userID, domain.NewProgressUpdate(userID, "job", i, time.Now()))
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, r.Users())
}

func TestRegistry_Notify(t *testing.T) {
	r := newTestRegistry(time.Second)
	c := NewConn(2)
	require.NoError(t, r.Add("user-1", c))

	r.Notify(context.Background(), domain.JobUpdate{Type: domain.EventJobCompleted})
	assert.Len(t, c.Out(), 0)

	r.Notify(context.Background(), domain.NewCompletedUpdate("user-1", "job-1", domain.FeatureSummarization, nil, time.Now()))
	require.Len(t, c.Out(), 1)
	assert.Equal(t, domain.EventJobCompleted, (<-c.Out()).Type)
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(time.Second)
	a := NewConn(1)
	b := NewConn(1)
	require.NoError(t, r.Add("user-1", a))
	require.NoError(t, r.Add("user-2", b))

	r.Close()
	r.Close()

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Empty(t, r.Users())
	assert.ErrorIs(t, r.Add("user-1", NewConn(1)), ErrRegistryClosed)
}
