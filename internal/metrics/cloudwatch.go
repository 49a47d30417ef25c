package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/aws"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

type series struct {
	name string
	dims []Dimension
}

// CloudWatch buffers counters in memory and publishes aggregated sums on Flush.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	log       *zap.Logger
	nowFunc   func() time.Time

	mu     sync.Mutex
	counts map[string]float64
	series map[string]series
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, log *zap.Logger) *CloudWatch {
	if log == nil {
		log = zap.NewNop()
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       log,
		nowFunc:   time.Now,
		counts:    map[string]float64{},
		series:    map[string]series{},
	}
}

func seriesKey(name string, dims []Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteString("|" + d.Name + "=" + d.Value)
	}
	return b.String()
}

func (c *CloudWatch) Incr(name string, dims ...Dimension) {
	sorted := append([]Dimension(nil), dims...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	key := seriesKey(name, sorted)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	if _, ok := c.series[key]; !ok {
		c.series[key] = series{name: name, dims: sorted}
	}
}

// Flush publishes everything counted since the previous flush.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	counts, known := c.counts, c.series
	c.counts = map[string]float64{}
	c.series = map[string]series{}
	c.mu.Unlock()

	if len(counts) == 0 {
		return nil
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := c.nowFunc().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		s := known[k]
		datum := cwtypes.MetricDatum{
			MetricName: aws.String(s.name),
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
			Value:      floatPtr(counts[k]),
		}
		for _, d := range s.dims {
			datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
				Name:  aws.String(d.Name),
				Value: aws.String(d.Value),
			})
		}
		data = append(data, datum)
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  &c.namespace,
			MetricData: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *CloudWatch) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.log.Warn("final metrics flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Warn("metrics flush failed", zap.Error(err))
			}
		}
	}
}

func floatPtr(f float64) *float64 { return &f }
