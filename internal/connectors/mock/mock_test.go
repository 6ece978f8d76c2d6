package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/model"
)

func TestValidateConfig(t *testing.T) {
	c := New()
	require.Error(t, c.ValidateConfig(context.Background(), map[string]string{}))
	require.NoError(t, c.ValidateConfig(context.Background(), map[string]string{"token": "T"}))
}

func TestFeedNewDocumentsEmitsSeedSet(t *testing.T) {
	c := New()
	var emitted []*model.Document
	rt := newRuntimeForTest(1, model.ZeroTime, &emitted)
	require.NoError(t, c.Dispatch(context.Background(), rt, "feed_new_documents", nil))

	require.Len(t, emitted, 2)
	assert.Equal(t, "1", emitted[0].ExternalID)
	assert.Contains(t, emitted[0].Content, "quick brown fox")
	assert.Equal(t, "2", emitted[1].ExternalID)
	require.Len(t, emitted[1].Children, 1)
	assert.Equal(t, model.KindComment, emitted[1].Children[0].Kind)
}

func TestFeedNewDocumentsIsIncremental(t *testing.T) {
	c := New()
	var emitted []*model.Document
	rt := newRuntimeForTest(1, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), &emitted)
	require.NoError(t, c.Dispatch(context.Background(), rt, "feed_new_documents", nil))

	require.Len(t, emitted, 1)
	assert.Equal(t, "2", emitted[0].ExternalID)
}

func TestDispatchUnknownMethod(t *testing.T) {
	c := New()
	rt := newRuntimeForTest(1, model.ZeroTime, &[]*model.Document{})
	require.Error(t, c.Dispatch(context.Background(), rt, "bogus", nil))
}

// newRuntimeForTest builds a connector.Runtime whose Emit hook appends to
// the given slice, since Runtime's hooks are unexported and only wired up
// by the real worker pool (C6) in production.
func newRuntimeForTest(sourceID int64, lastIndexedAt time.Time, sink *[]*model.Document) *connector.Runtime {
	return connector.NewTestRuntime(sourceID, lastIndexedAt, func(d *model.Document) {
		*sink = append(*sink, d)
	}, nil)
}
