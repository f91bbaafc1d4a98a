package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKafkaBrokersParsing(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, kafkaBrokers())

	t.Setenv("KAFKA_BROKERS", "")
	assert.Empty(t, kafkaBrokers())
}
