package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallets
	if cfg.Wallets != nil {
		out.Wallets = make([]WalletConfig, len(cfg.Wallets))
		copy(out.Wallets, cfg.Wallets)
		for i := range out.Wallets {
			redact(&out.Wallets[i].PrivateKey)
			redact(&out.Wallets[i].KeyPassword)
		}
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)
	redact(&out.Redis.URL)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Rollover.DeniedTokens != nil {
		out.Rollover.DeniedTokens = append([]string(nil), cfg.Rollover.DeniedTokens...)
	}
	if cfg.Rollover.MinCollateral != nil {
		out.Rollover.MinCollateral = make(map[string]string, len(cfg.Rollover.MinCollateral))
		for k, v := range cfg.Rollover.MinCollateral {
			out.Rollover.MinCollateral[k] = v
		}
	}
	if cfg.Arbitrage.Pairs != nil {
		out.Arbitrage.Pairs = append([]PairConfig(nil), cfg.Arbitrage.Pairs...)
	}
	if cfg.Tokens != nil {
		out.Tokens = append([]TokenConfig(nil), cfg.Tokens...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
