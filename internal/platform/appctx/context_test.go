package appctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = SetRequestID(ctx, "req-1")
	ctx = SetMethod(ctx, "POST")
	ctx = SetRoute(ctx, "/api/identify")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "POST", GetMethod(ctx))
	assert.Equal(t, "/api/identify", GetRoute(ctx))
	assert.Equal(t, map[string]any{
		"request_id": "req-1",
		"method":     "POST",
		"route":      "/api/identify",
	}, Fields(ctx))
}
