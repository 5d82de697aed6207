package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func TestForwarder(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends token batch", func(t *testing.T) {
		putter := new(mockPutter)
		putter.On("DoPut", ctx, "tokens", mock.MatchedBy(func(rec arrow.RecordBatch) bool {
			ids, err := ReadTokenIDs(rec)
			return err == nil && len(ids) == 1 && len(ids[0]) == 3
		})).Return(nil).Once()

		f := NewForwarder(putter, "tokens", 2, time.Minute)
		require.NoError(t, f.Forward(ctx, []string{"hi"}, [][]int{{2, 9, 3}}))
		putter.AssertExpectations(t)
		assert.Equal(t, StateClosed, f.State())
	})

	t.Run("Empty batch is a no-op", func(t *testing.T) {
		putter := new(mockPutter)
		f := NewForwarder(putter, "tokens", 2, time.Minute)
		require.NoError(t, f.Forward(ctx, nil, nil))
		putter.AssertNotCalled(t, "DoPut", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Opens after repeated failures", func(t *testing.T) {
		boom := errors.New("unavailable")
		putter := new(mockPutter)
		putter.On("DoPut", ctx, "tokens", mock.Anything).Return(boom).Twice()

		f := NewForwarder(putter, "tokens", 2, time.Minute)
		for i := 0; i < 2; i++ {
			err := f.Forward(ctx, []string{"hi"}, [][]int{{2, 3}})
			require.ErrorIs(t, err, boom)
		}
		assert.Equal(t, StateOpen, f.State())

		err := f.Forward(ctx, []string{"hi"}, [][]int{{2, 3}})
		require.ErrorIs(t, err, ErrCircuitOpen)
		putter.AssertNumberOfCalls(t, "DoPut", 2)
	})
}
