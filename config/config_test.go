package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "fulfillment-events", cfg.Kafka.TopicEvents)
	assert.Equal(t, 5, cfg.Business.LowStockThreshold)
	assert.True(t, cfg.Business.TaxRatePercent.Equal(decimal.NewFromInt(18)))
	assert.Equal(t, 240*time.Hour, cfg.Carrier.TokenTTL)
	assert.Equal(t, 2*time.Minute, cfg.Outbox.Lease)
	assert.Equal(t, "Asia/Kolkata", cfg.Carrier.Location.String())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("FREE_SHIPPING_THRESHOLD", "1499.50")
	t.Setenv("METRO_POSTCODE_PREFIXES", "110 ,400")
	t.Setenv("OUTBOX_BATCH_SIZE", "50")
	t.Setenv("LOW_STOCK_THRESHOLD", "ten")

	cfg := Load()

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Business.FreeShippingThreshold.Equal(decimal.RequireFromString("1499.50")))
	assert.Equal(t, []string{"110", "400"}, cfg.Business.MetroPostcodePrefixes)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 5, cfg.Business.LowStockThreshold)
}

func TestInvalidDecimalFallsBack(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "eighteen")
	assert.True(t, getDecimal("TAX_RATE_PERCENT", "18").Equal(decimal.NewFromInt(18)))
}

func TestUnknownTimeZoneFallsBackToUTC(t *testing.T) {
	t.Setenv("CARRIER_TIMEZONE", "Mars/Olympus")
	assert.Equal(t, time.UTC, getLocation("CARRIER_TIMEZONE", "Asia/Kolkata"))

	t.Setenv("CARRIER_TIMEZONE", "Europe/Berlin")
	assert.Equal(t, "Europe/Berlin", getLocation("CARRIER_TIMEZONE", "Asia/Kolkata").String())
}
