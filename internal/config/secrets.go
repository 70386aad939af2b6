package config

import "strings"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redactURL(&out.NATS.URL)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Scanner.QuoteAssets = append([]string(nil), cfg.Scanner.QuoteAssets...)
	out.Scanner.StartCurrencies = append([]string(nil), cfg.Scanner.StartCurrencies...)
	out.Scanner.Cycles = append([]CycleConfig(nil), cfg.Scanner.Cycles...)
	out.Scanner.MaxNotionalByQuote = copyFloats(cfg.Scanner.MaxNotionalByQuote)
	out.Fees.Exchanges = copyFloats(cfg.Fees.Exchanges)
	if cfg.Fees.Quotes != nil {
		out.Fees.Quotes = make(map[string]map[string]float64, len(cfg.Fees.Quotes))
		for ex, q := range cfg.Fees.Quotes {
			out.Fees.Quotes[ex] = copyFloats(q)
		}
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

// redactURL masks credentials embedded as user:pass@ in a URL.
func redactURL(s *string) {
	at := strings.LastIndex(*s, "@")
	if at < 0 {
		return
	}
	scheme := strings.Index(*s, "://")
	if scheme < 0 || scheme > at {
		return
	}
	*s = (*s)[:scheme+3] + redacted + (*s)[at:]
}

func copyFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
