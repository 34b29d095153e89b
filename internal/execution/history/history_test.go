package history_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/lambda-feedback/jobproc/internal/execution/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLines_Append_KeepsLinesInOrder(t *testing.T) {
	h := history.New(3)

	h.Append("a")
	h.Append("b")

	assert.Equal(t, []string{"a", "b"}, h.Lines())
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 3, h.Cap())
}

func TestLines_Append_EvictsOldest(t *testing.T) {
	tests := []struct {
		capacity int
		appended int
	}{
		{capacity: 1, appended: 5},
		{capacity: 3, appended: 4},
		{capacity: 30, appended: 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.capacity, tt.appended), func(t *testing.T) {
			h := history.New(tt.capacity)

			for i := 0; i < tt.appended; i++ {
				h.Append(fmt.Sprintf("line %d", i))
			}

			lines := h.Lines()
			require.Len(t, lines, tt.capacity)

			// exactly the last K lines, in original relative order
			for i, line := range lines {
				assert.Equal(t, fmt.Sprintf("line %d", tt.appended-tt.capacity+i), line)
			}
		})
	}
}

func TestLines_New_ClampsCapacity(t *testing.T) {
	h := history.New(0)

	h.Append("a")
	h.Append("b")

	assert.Equal(t, 1, h.Cap())
	assert.Equal(t, []string{"b"}, h.Lines())
}

func TestLines_Join(t *testing.T) {
	h := history.New(2)

	assert.Equal(t, "", h.Join("\n"))

	h.Append("a")
	h.Append("b")
	h.Append("c")

	assert.Equal(t, "b\nc", h.Join("\n"))
}

func TestLines_Lines_ReturnsCopy(t *testing.T) {
	h := history.New(2)
	h.Append("a")

	lines := h.Lines()
	lines[0] = "mutated"

	assert.Equal(t, []string{"a"}, h.Lines())
}

func TestLines_ConcurrentAppend(t *testing.T) {
	h := history.New(10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Append("x")
				_ = h.Lines()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.Len())
}
