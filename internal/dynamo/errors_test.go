package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
)

type timeoutError struct{ timeout bool }

func (e timeoutError) Error() string   { return "i/o timeout" }
func (e timeoutError) Timeout() bool   { return e.timeout }
func (e timeoutError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"throughput exceeded", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}, true},
		{"transaction conflict", &smithy.GenericAPIError{Code: "TransactionConflictException"}, true},
		{"server fault", &smithy.GenericAPIError{Code: "SomethingBroke", Fault: smithy.FaultServer}, true},
		{"client fault", &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}, false},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		{"network timeout", fmt.Errorf("dial: %w", timeoutError{timeout: true}), true},
		{"network error", timeoutError{}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransient(tt.err))

			err := Classify("get item", tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "get item")
			assert.Equal(t, tt.transient, apperr.IsTransient(err))
		})
	}

	assert.NoError(t, Classify("get item", nil))
}

func TestIsConditionFailed(t *testing.T) {
	msg := "the conditional request failed"
	assert.True(t, IsConditionFailed(fmt.Errorf("put: %w", &types.ConditionalCheckFailedException{Message: &msg})))
	assert.True(t, IsConditionFailed(&smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}))
	assert.False(t, IsConditionFailed(&smithy.GenericAPIError{Code: "ThrottlingException"}))
	assert.False(t, IsConditionFailed(errors.New("boom")))
}
