package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCreateAssignsUniqueIDs 测试并发创建时ID唯一
func TestCreateAssignsUniqueIDs(t *testing.T) {
	l := New()

	const n = 100
	ids := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := l.Create(fmt.Sprintf("room-%d", i), "test")
			assert.NoError(t, err)
			ids <- rec.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "Duplicate transfer id: %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

// TestLifecycleProgression 测试状态严格向前推进
func TestLifecycleProgression(t *testing.T) {
	l := New()

	rec, err := l.Create("room-42", "angry customer")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "angry customer", rec.Reason)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.AcceptedAt)
	assert.Nil(t, rec.CompletedAt)

	accepted, err := l.Accept(rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Equal(t, "alice", accepted.AgentName)
	require.NotNil(t, accepted.AcceptedAt)

	completed, err := l.Complete(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.False(t, completed.CompletedAt.Before(*completed.AcceptedAt))
}

// TestAcceptUnknownID 测试接受不存在的转接
func TestAcceptUnknownID(t *testing.T) {
	l := New()

	_, err := l.Accept("transfer_nope", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Complete("transfer_nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Get("transfer_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAcceptTwiceFails 测试重复接受失败
func TestAcceptTwiceFails(t *testing.T) {
	l := New()

	rec, err := l.Create("room-1", "test")
	require.NoError(t, err)

	_, err = l.Accept(rec.ID, "alice")
	require.NoError(t, err)

	_, err = l.Accept(rec.ID, "bob")
	assert.ErrorIs(t, err, ErrAlreadyHandled)

	// 接受方信息不被第二次调用覆盖
	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.AgentName)
}

// TestConcurrentAcceptExactlyOneWinner 测试并发接受恰好一个赢家
func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	l := New()

	rec, err := l.Create("room-42", "angry customer")
	require.NoError(t, err)

	const contenders = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string
	var lost int

	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			name := fmt.Sprintf("agent-%d", i)
			_, err := l.Accept(rec.ID, name)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, name)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyHandled)
				lost++
			}
		}(i)
	}

	close(start)
	wg.Wait()

	require.Len(t, winners, 1, "Exactly one accept must succeed")
	assert.Equal(t, contenders-1, lost)

	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.AgentName)
}

// TestCompleteFromPending 测试从Pending直接完成
func TestCompleteFromPending(t *testing.T) {
	l := New()

	rec, err := l.Create("room-7", "test")
	require.NoError(t, err)

	completed, err := l.Complete(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// 完成后不能再被接受
	_, err = l.Accept(rec.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyHandled)

	// 重复完成不改变时间戳
	again, err := l.Complete(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, completed.CompletedAt.UnixNano(), again.CompletedAt.UnixNano())
}

// TestListPendingOrderedByCreation 测试Pending列表按创建顺序返回
func TestListPendingOrderedByCreation(t *testing.T) {
	l := New()

	var created []string
	for i := 0; i < 5; i++ {
		rec, err := l.Create(fmt.Sprintf("room-%d", i), "test")
		require.NoError(t, err)
		created = append(created, rec.ID)
	}

	// 接受中间一条，它应从Pending列表消失
	_, err := l.Accept(created[2], "alice")
	require.NoError(t, err)

	pending := l.ListPending()
	require.Len(t, pending, 4)

	want := []string{created[0], created[1], created[3], created[4]}
	for i, rec := range pending {
		assert.Equal(t, want[i], rec.ID)
		assert.Equal(t, StatusPending, rec.Status)
	}

	assert.Equal(t, 4, l.PendingCount())
}

// TestSnapshotIsolation 测试返回的快照与账本内部状态隔离
func TestSnapshotIsolation(t *testing.T) {
	l := New()

	rec, err := l.Create("room-9", "test")
	require.NoError(t, err)

	rec.Status = StatusCompleted
	rec.AgentName = "mallory"

	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.AgentName)
}
