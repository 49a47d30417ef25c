package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatch_FlushAggregates(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw := NewCloudWatch(fake, "OrderSync", nil)

	cw.Incr(StatusChanges, Dimension{"Status", "accepted"})
	cw.Incr(StatusChanges, Dimension{"Status", "accepted"})
	cw.Incr(StatusChanges, Dimension{"Status", "ready"})
	cw.Incr(MirrorFailures)

	require.NoError(t, cw.Flush(context.Background()))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "OrderSync", *in.Namespace)
	require.Len(t, in.MetricData, 3)

	totals := map[string]float64{}
	for _, d := range in.MetricData {
		key := *d.MetricName
		for _, dim := range d.Dimensions {
			key += ":" + *dim.Value
		}
		totals[key] = *d.Value
	}
	assert.Equal(t, 2.0, totals["StatusChanges:accepted"])
	assert.Equal(t, 1.0, totals["StatusChanges:ready"])
	assert.Equal(t, 1.0, totals["MirrorFailures"])

	// nothing new counted, nothing sent
	require.NoError(t, cw.Flush(context.Background()))
	assert.Len(t, fake.inputs, 1)
}

func TestCloudWatch_FlushError(t *testing.T) {
	fake := &fakeCloudWatch{err: errors.New("throttled")}
	cw := NewCloudWatch(fake, "OrderSync", nil)
	cw.Incr(OrdersSubmitted)
	assert.Error(t, cw.Flush(context.Background()))
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Incr(OrdersSubmitted)
}
