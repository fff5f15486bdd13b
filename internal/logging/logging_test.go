package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/reqid"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	_, err := New(nil, "loud", false)
	require.Error(t, err)

	var buf bytes.Buffer
	logger, err := New(&buf, "warn", false)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	require.Equal(t, "shown", got[0]["message"])
	require.Contains(t, got[0], "time")
}

func TestSubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	var buf bytes.Buffer
	logger, err := New(&buf, "info", false)
	require.NoError(t, err)
	defer Subscribe(logger)()

	ctx, id := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.BatchFinish{Collaborator: "reviews", Level: 2, Keys: 5, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.BatchFinish{Collaborator: "reviews", Level: 2, Keys: 5, Err: errors.New("collaborator timeout")})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationName: "Products", OperationType: "query", Errors: []error{errors.New("x")}})

	got := lines(t, &buf)
	require.Len(t, got, 2)
	require.Equal(t, "warn", got[0]["level"])
	require.Equal(t, "batch finished", got[0]["message"])
	require.Equal(t, "reviews", got[0]["collaborator"])
	require.Equal(t, "collaborator timeout", got[0]["error"])
	require.Equal(t, float64(id), got[0]["request_id"])
	require.Equal(t, "graphql operation finished", got[1]["message"])
	require.Equal(t, float64(1), got[1]["errors"])
}
