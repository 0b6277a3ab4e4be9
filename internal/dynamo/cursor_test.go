package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
)

func TestCursorRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"user_id":    S("u1"),
		"order_id":   S("0b4c1f2e"),
		"created_at": S("2025-01-01T00:00:00Z"),
		"seq":        N(42),
	}
	token, err := EncodeCursor(key)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotContains(t, token, "=")

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestCursorEmpty(t *testing.T) {
	token, err := EncodeCursor(nil)
	require.NoError(t, err)
	assert.Empty(t, token)

	key, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	for _, token := range []string{"@@@", "bm90LWpzb24"} {
		_, err := DecodeCursor(token)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), token)
	}
}
