package orders

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListQuery selects a page of a user's orders.
type ListQuery struct {
	Status Status
	Limit  int
	Cursor string
}

// Page is one page of orders, newest first.
type Page struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// ListByUser pages a user's orders, optionally filtered by status. The
// status filter runs after the page limit, so a filtered page can be
// short while NextCursor is still set.
func (s *Store) ListByUser(ctx context.Context, userID string, q ListQuery) (*Page, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	start, err := dynamo.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	if q.Status != "" && !validStatus(q.Status) {
		return nil, apperr.Validation("invalid status filter", apperr.FieldError{Field: "status", Message: "unknown status"})
	}

	in := &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 dynamo.String(tables.OrdersByUserIndex),
		KeyConditionExpression:    dynamo.String("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":u": dynamo.S(userID)},
		ScanIndexForward:          dynamo.Ptr(false),
		Limit:                     dynamo.Ptr(int32(limit)),
		ExclusiveStartKey:         start,
	}
	if q.Status != "" {
		in.FilterExpression = dynamo.String("#st = :st")
		in.ExpressionAttributeNames = map[string]string{"#st": "status"}
		in.ExpressionAttributeValues[":st"] = dynamo.S(string(q.Status))
	}
	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, dynamo.Classify("query orders", err)
	}

	page := &Page{Orders: []Order{}}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Orders); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	if page.NextCursor, err = dynamo.EncodeCursor(out.LastEvaluatedKey); err != nil {
		return nil, err
	}
	return page, nil
}

func validStatus(s Status) bool {
	for st := range statusTransitions {
		if st == s {
			return true
		}
	}
	return s == StatusCancelled || s == StatusRefunded
}
