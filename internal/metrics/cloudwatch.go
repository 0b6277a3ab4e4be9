package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
)

// CloudWatch publishes each observation with PutMetricData. Failures are
// logged and dropped.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
}

// NewCloudWatch returns a recorder writing to namespace.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, logger: logging.OrDefault(logger)}
}

func (c *CloudWatch) Checkout(ctx context.Context, outcome string, elapsed time.Duration) {
	dims := []cwtypes.Dimension{{Name: strPtr("Outcome"), Value: strPtr(outcome)}}
	c.put(ctx,
		cwtypes.MetricDatum{MetricName: strPtr("Checkouts"), Dimensions: dims, Unit: cwtypes.StandardUnitCount, Value: floatPtr(1)},
		cwtypes.MetricDatum{MetricName: strPtr("CheckoutLatency"), Dimensions: dims, Unit: cwtypes.StandardUnitMilliseconds,
			Value: floatPtr(float64(elapsed.Milliseconds()))},
	)
}

func (c *CloudWatch) Retry(ctx context.Context, op string) {
	c.put(ctx, cwtypes.MetricDatum{
		MetricName: strPtr("Retries"),
		Dimensions: []cwtypes.Dimension{{Name: strPtr("Operation"), Value: strPtr(op)}},
		Unit:       cwtypes.StandardUnitCount,
		Value:      floatPtr(1),
	})
}

func (c *CloudWatch) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	now := time.Now().UTC()
	for i := range data {
		data[i].Timestamp = &now
	}
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &c.namespace,
		MetricData: data,
	})
	if err != nil {
		c.logger.Warn("put metric data failed", zap.String("namespace", c.namespace), zap.Error(err))
	}
}

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }
