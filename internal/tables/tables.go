// Package tables holds the DynamoDB table definitions and creates them.
package tables

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
)

// Index names shared with the stores.
const (
	OrdersByUserIndex   = "user_id-created_at"
	LogByProductIndex   = "product_id-created_at"
	CartExpiryAttribute = "expires_at"
)

// Definition describes one table.
type Definition struct {
	Name      string
	HashKey   string
	Index     string // optional GSI name
	IndexHash string
	IndexSort string
	TTL       string // optional TTL attribute
}

// Definitions returns every table for the given names.
func Definitions(t config.Tables) []Definition {
	return []Definition{
		{Name: t.Products, HashKey: "product_id"},
		{Name: t.Carts, HashKey: "user_id", TTL: CartExpiryAttribute},
		{Name: t.Orders, HashKey: "order_id", Index: OrdersByUserIndex, IndexHash: "user_id", IndexSort: "created_at"},
		{Name: t.InventoryLog, HashKey: "entry_id", Index: LogByProductIndex, IndexHash: "product_id", IndexSort: "created_at"},
		{Name: t.Idempotency, HashKey: "idempotency_key"},
		{Name: t.Counters, HashKey: "counter_id"},
		{Name: t.Users, HashKey: "user_id"},
	}
}

// Input builds the CreateTable request for d, on-demand billing.
func (d Definition) Input() *dyn.CreateTableInput {
	attrs := []types.AttributeDefinition{
		{AttributeName: dynamo.String(d.HashKey), AttributeType: types.ScalarAttributeTypeS},
	}
	in := &dyn.CreateTableInput{
		TableName:   dynamo.String(d.Name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: dynamo.String(d.HashKey), KeyType: types.KeyTypeHash},
		},
	}
	if d.Index != "" {
		attrs = append(attrs,
			types.AttributeDefinition{AttributeName: dynamo.String(d.IndexHash), AttributeType: types.ScalarAttributeTypeS},
			types.AttributeDefinition{AttributeName: dynamo.String(d.IndexSort), AttributeType: types.ScalarAttributeTypeS},
		)
		in.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{{
			IndexName: dynamo.String(d.Index),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: dynamo.String(d.IndexHash), KeyType: types.KeyTypeHash},
				{AttributeName: dynamo.String(d.IndexSort), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}}
	}
	in.AttributeDefinitions = attrs
	return in
}

// Create creates every table that does not exist yet and enables TTL where
// defined. It reports the names it created.
func Create(ctx context.Context, client aws.DynamoDBAdminAPI, t config.Tables) ([]string, error) {
	var created []string
	for _, d := range Definitions(t) {
		_, err := client.CreateTable(ctx, d.Input())
		if err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				continue
			}
			return created, fmt.Errorf("create table %s: %w", d.Name, err)
		}
		created = append(created, d.Name)
		if d.TTL == "" {
			continue
		}
		enabled := true
		_, err = client.UpdateTimeToLive(ctx, &dyn.UpdateTimeToLiveInput{
			TableName: dynamo.String(d.Name),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: dynamo.String(d.TTL),
				Enabled:       &enabled,
			},
		})
		if err != nil {
			return created, fmt.Errorf("enable ttl on %s: %w", d.Name, err)
		}
	}
	return created, nil
}
