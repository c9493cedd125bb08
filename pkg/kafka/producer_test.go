package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
)

func TestEncodeKeysAndValues(t *testing.T) {
	msgs, err := Encode([]Event{
		{Key: "/a.txt", Value: map[string]string{"action": "add"}},
		{Key: "/b.txt", Value: 42},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("/a.txt"), msgs[0].Key)

	var v map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Value, &v))
	assert.Equal(t, "add", v["action"])
	assert.Equal(t, "42", string(msgs[1].Value))
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := Encode([]Event{{Key: "/c", Value: make(chan int)}})
	assert.ErrorContains(t, err, `"/c"`)
}

func TestPublishEmptyBatchIsNoop(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topics: config.KafkaTopics{ReconcileEvents: "t"}})
	defer p.Close()
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}
