package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// database changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PremiumVoiceChanged flips how phone calls are voiced mid-flight.
	PremiumVoiceChanged bool
	NewPremiumVoice     bool

	// DemoReplyLimitChanged applies to demo sessions opened after the reload.
	DemoReplyLimitChanged bool
	NewDemoReplyLimit     int
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PremiumVoiceChanged || d.DemoReplyLimitChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Telephony.PremiumVoice != new.Telephony.PremiumVoice {
		d.PremiumVoiceChanged = true
		d.NewPremiumVoice = new.Telephony.PremiumVoice
	}

	if old.Demo.ReplyLimit != new.Demo.ReplyLimit {
		d.DemoReplyLimitChanged = true
		d.NewDemoReplyLimit = new.Demo.ReplyLimit
	}

	return d
}
