package confluence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/model"
)

func TestValidateConfigRequiresURLAndToken(t *testing.T) {
	c := New()
	require.Error(t, c.ValidateConfig(context.Background(), map[string]string{}))
	require.Error(t, c.ValidateConfig(context.Background(), map[string]string{"url": "https://x"}))
}

func TestValidateConfigAgainstFakeUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()

	require.NoError(t, c.ValidateConfig(context.Background(), map[string]string{"url": srv.URL, "token": "good-token"}))

	err := c.ValidateConfig(context.Background(), map[string]string{"url": srv.URL, "token": "bad-token"})
	require.Error(t, err)
	var invalidCfg *model.InvalidConfigError
	require.ErrorAs(t, err, &invalidCfg)
}

func TestDispatchFeedNewDocumentsReportsUnimplemented(t *testing.T) {
	c := New()
	err := c.Dispatch(context.Background(), nil, "feed_new_documents", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestDescribeConfigSchemaHasURLAndToken(t *testing.T) {
	fields := New().DescribeConfigSchema()
	require.Len(t, fields, 2)
	assert.Equal(t, "url", fields[0].Name)
	assert.Equal(t, "token", fields[1].Name)
}
