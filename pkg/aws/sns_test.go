package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, nil
}

func TestSNSClient_Publish(t *testing.T) {
	fake := &fakeSNS{}
	client := &SNSClient{client: fake}

	err := client.Publish(context.Background(), "arn:aws:sns:eu-north-1:000000000000:orders", []byte(`{"type":"order.created"}`),
		map[string]string{"event_type": "order.created"})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, `{"type":"order.created"}`, *in.Message)
	assert.Equal(t, "order.created", *in.MessageAttributes["event_type"].StringValue)
}

func TestSNSClient_PublishRequiresTopic(t *testing.T) {
	client := &SNSClient{client: &fakeSNS{}}
	assert.Error(t, client.Publish(context.Background(), "", []byte("{}"), nil))
}
