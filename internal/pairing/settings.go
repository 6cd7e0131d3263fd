package pairing

import (
	"time"

	semver "github.com/Masterminds/semver/v3"

	"github.com/arcushome/blepairing/utils"
)

// Settings are the coordinator's timing and policy knobs.
type Settings struct {
	WiFiConnectionTimeout time.Duration
	SSIDUpdateTimeout     time.Duration
	IpcdTimeout           time.Duration
	HubTimeout            time.Duration

	NetworkStatusInterval time.Duration
	IpcdInterval          time.Duration
	IpcdMaxAttempts       int
	HubInterval           time.Duration

	// MinFirmware, if set, is the oldest device firmware not flagged in the logs.
	MinFirmware *semver.Version
}

// SettingsFromConfig takes settings from an already validated config.
func SettingsFromConfig(cfg utils.Config) Settings {
	s := Settings{
		WiFiConnectionTimeout: time.Duration(cfg.Timeouts.WiFiConnection),
		SSIDUpdateTimeout:     time.Duration(cfg.Timeouts.SSIDUpdate),
		IpcdTimeout:           time.Duration(cfg.Timeouts.IpcdRegistration),
		HubTimeout:            time.Duration(cfg.Timeouts.HubRegistration),
		NetworkStatusInterval: time.Duration(cfg.Polling.NetworkStatusInterval),
		IpcdInterval:          time.Duration(cfg.Polling.IpcdInterval),
		IpcdMaxAttempts:       cfg.Polling.IpcdMaxAttempts,
		HubInterval:           time.Duration(cfg.Polling.HubInterval),
	}
	if cfg.Bluetooth.MinFirmware != "" {
		if v, err := semver.NewVersion(cfg.Bluetooth.MinFirmware); err == nil {
			s.MinFirmware = v
		}
	}
	return s
}

// DefaultSettings matches utils.DefaultConfiguration.
func DefaultSettings() Settings {
	return SettingsFromConfig(utils.DefaultConfig())
}
