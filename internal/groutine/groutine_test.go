package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContextAndSignalsDone(t *testing.T) {
	var got string
	done := Go(context.Background(), "worker-42", func(ctx context.Context) {
		got = GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done channel MUST close when fn returns")
	}
	assert.Equal(t, "worker-42", got)
}

func TestGo_NilParentContext(t *testing.T) {
	//nolint:staticcheck // nil context is accepted on purpose
	done := Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestGetName_Unnamed(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck
	assert.Equal(t, "", GetName(nil))
}
