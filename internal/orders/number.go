package orders

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
)

// NumberGenerator hands out order numbers from an atomic per-year counter.
// Numbers taken by a transaction that later aborts are not reused, so the
// sequence may have gaps but never repeats.
type NumberGenerator struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewNumberGenerator creates a generator over the counters table.
func NewNumberGenerator(client aws.DynamoDBAPI, tableName string) *NumberGenerator {
	return &NumberGenerator{client: client, tableName: tableName}
}

// Next returns the next ORD-<year>-<seq> number.
func (g *NumberGenerator) Next(ctx context.Context, year int) (string, error) {
	out, err := g.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &g.tableName,
		Key:                       dynamo.Key("counter_id", "order#"+strconv.Itoa(year)),
		UpdateExpression:          dynamo.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": dynamo.N(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", dynamo.Classify("next order number", err)
	}
	var seq int64
	if err := attributevalue.Unmarshal(out.Attributes["seq"], &seq); err != nil {
		return "", fmt.Errorf("unmarshal order sequence: %w", err)
	}
	return fmt.Sprintf("ORD-%d-%06d", year, seq), nil
}
