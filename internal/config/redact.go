package config

const redacted = "********"

// Redacted returns a deep enough copy of cfg with secrets masked, suitable
// for printing.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Bridge.Secret != "" {
		out.Bridge.Secret = redacted
	}
	if out.Archive.S3.SecretAccessKey != "" {
		out.Archive.S3.SecretAccessKey = redacted
	}
	out.Sessions = make([]SessionConfig, len(c.Sessions))
	copy(out.Sessions, c.Sessions)
	for i := range out.Sessions {
		if out.Sessions[i].Modules.ChatGPT.APIKey != "" {
			out.Sessions[i].Modules.ChatGPT.APIKey = redacted
		}
		if len(out.Sessions[i].Proxies) > 0 {
			proxies := make([]string, len(out.Sessions[i].Proxies))
			for j := range proxies {
				proxies[j] = redacted
			}
			out.Sessions[i].Proxies = proxies
		}
	}
	return &out
}
