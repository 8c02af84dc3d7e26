package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeManager_RecordsCalls(t *testing.T) {
	fake := &FakeManager{}
	ctx := context.Background()
	stack := Stack{ProjectName: "shop", Dir: "/srv/shop"}

	res, err := fake.Up(ctx, stack)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = fake.Down(ctx, stack)
	require.NoError(t, err)

	_, err = fake.Execute(ctx, ExecSpec{Command: "echo"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []Stack{stack}, fake.UpCalls())
	assert.Equal(t, []Stack{stack}, fake.DownCalls())
	require.Len(t, fake.ExecuteCalls(), 1)
	assert.Equal(t, "echo", fake.ExecuteCalls()[0].Command)
}

func TestFakeManager_DelegatesToFunc(t *testing.T) {
	boom := errors.New("boom")
	fake := &FakeManager{
		UpFunc: func(context.Context, Stack) (*Result, error) {
			return &Result{Success: false, ExitCode: 1}, boom
		},
	}

	res, err := fake.Up(context.Background(), Stack{ProjectName: "x"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.Len(t, fake.UpCalls(), 1, "failed calls are still recorded")
}
