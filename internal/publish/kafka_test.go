package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dgawatch/internal/core"
)

func TestNewKafkaPublisher(t *testing.T) {
	tests := []struct {
		name        string
		brokers     []string
		topic       string
		compression string
		wantErr     bool
	}{
		{name: "missing brokers", topic: "dga", wantErr: true},
		{name: "missing topic", brokers: []string{"localhost:9092"}, wantErr: true},
		{name: "minimal", brokers: []string{"localhost:9092"}, topic: "dga"},
		{name: "gzip", brokers: []string{"b1:9092", "b2:9092"}, topic: "dga", compression: "gzip"},
		{name: "zstd", brokers: []string{"localhost:9092"}, topic: "dga", compression: "zstd"},
		{name: "invalid compression", brokers: []string{"localhost:9092"}, topic: "dga", compression: "brotli", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewKafkaPublisher(tt.brokers, tt.topic, tt.compression, time.Second)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrConfigInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, p.writer.Topic)
			assert.Equal(t, time.Second, p.writer.WriteTimeout)
			assert.NoError(t, p.Close())
		})
	}
}
