package dynamo

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// String returns a pointer to s, for SDK input fields.
func String(s string) *string { return &s }

// S is a string attribute value.
func S(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

// N is a number attribute value.
func N(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

// Bool is a boolean attribute value.
func Bool(v bool) types.AttributeValue { return &types.AttributeValueMemberBOOL{Value: v} }

// Key builds a single-attribute primary key.
func Key(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: S(value)}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
