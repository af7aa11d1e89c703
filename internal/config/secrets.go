package config

import "maps"

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.SolanaPrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Bitcoin.APIKey)
	redact(&out.Bitcoin.APISecret)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// slices and maps are shared by the shallow copy
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	out.Flow.StaticPrices = maps.Clone(cfg.Flow.StaticPrices)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
