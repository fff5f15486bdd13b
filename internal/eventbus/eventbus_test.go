package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type started struct{ Name string }
type finished struct{ Name string }

func TestBus_DispatchesByType(t *testing.T) {
	b := New()
	var got []string
	SubscribeTo(b, func(ctx context.Context, e started) { got = append(got, "start "+e.Name) })
	SubscribeTo(b, func(ctx context.Context, e finished) { got = append(got, "finish "+e.Name) })

	PublishTo(context.Background(), b, started{Name: "catalog"})
	PublishTo(context.Background(), b, finished{Name: "catalog"})
	PublishTo(context.Background(), b, "ignored")

	require.Equal(t, []string{"start catalog", "finish catalog"}, got)
}

func TestBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var first, second int
	unsubFirst := SubscribeTo(b, func(ctx context.Context, e started) { first++ })
	SubscribeTo(b, func(ctx context.Context, e started) { second++ })

	PublishTo(context.Background(), b, started{})
	unsubFirst()
	unsubFirst()
	PublishTo(context.Background(), b, started{})

	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func TestGlobal(t *testing.T) {
	// Without a bus nothing is delivered and Subscribe is harmless.
	Use(nil)
	called := false
	Subscribe(func(ctx context.Context, e started) { called = true })()
	Publish(context.Background(), started{})
	require.False(t, called)

	Use(New())
	defer Use(nil)
	unsub := Subscribe(func(ctx context.Context, e started) { called = true })
	Publish(context.Background(), started{})
	require.True(t, called)
	unsub()
}
