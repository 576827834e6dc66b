package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSaramaConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	conf, err := c.ToSaramaConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultClientID, conf.ClientID)
	assert.True(t, conf.Version.IsAtLeast(sarama.V2_1_0_0))
	assert.Equal(t, sarama.WaitForAll, conf.Producer.RequiredAcks)
	assert.True(t, conf.Producer.Return.Successes)
	assert.True(t, conf.Producer.Return.Errors)
	assert.True(t, conf.Consumer.Return.Errors)
	assert.Equal(t, sarama.OffsetOldest, conf.Consumer.Offsets.Initial)
	assert.False(t, conf.Net.SASL.Enable)
	require.NoError(t, conf.Validate())
}

func TestToSaramaConfigSASL(t *testing.T) {
	tests := []struct {
		algorithm string
		mechanism sarama.SASLMechanism
		wantErr   bool
	}{
		{"sha512", sarama.SASLTypeSCRAMSHA512, false},
		{"sha256", sarama.SASLTypeSCRAMSHA256, false},
		{"plain", sarama.SASLTypePlaintext, false},
		{"md5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c := Config{SASL: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: tt.algorithm}}
			conf, err := c.ToSaramaConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, conf.Net.SASL.Enable)
			assert.Equal(t, tt.mechanism, conf.Net.SASL.Mechanism)
			if tt.mechanism != sarama.SASLTypePlaintext {
				require.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc)
				assert.IsType(t, &XDGSCRAMClient{}, conf.Net.SASL.SCRAMClientGeneratorFunc())
			}
		})
	}
}

func TestToSaramaConfigBadVersion(t *testing.T) {
	c := Config{Version: "not-a-version"}
	_, err := c.ToSaramaConfig()
	assert.Error(t, err)
}

func TestToSaramaConfigMissingCA(t *testing.T) {
	c := Config{TLS: TLS{Enable: true, CAFile: "/nonexistent/ca.pem"}}
	_, err := c.ToSaramaConfig()
	assert.Error(t, err)
}

func TestGetBrokers(t *testing.T) {
	assert.Equal(t, []string{"localhost:9092"}, (&Config{}).GetBrokers())
	assert.Equal(t, []string{"kafka0:9092", "kafka1:9092"}, (&Config{Brokers: []string{"kafka0:9092", "kafka1:9092"}}).GetBrokers())
}

func TestSCRAMClientConversation(t *testing.T) {
	c := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("user", "pencil", ""))

	first, err := c.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, c.Done())
}
