package utils

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"
	errw "github.com/pkg/errors"
	"github.com/tidwall/jsonc"
)

var (
	DefaultConfiguration = Config{
		Debug: Tribool(0),
		Crypto: CryptoConfiguration{
			SharedSecret: "",
			SharedIV:     "",
		},
		Timeouts: TimeoutConfiguration{
			WiFiConnection:   Timeout(time.Minute),
			SSIDUpdate:       Timeout(time.Minute * 2),
			IpcdRegistration: Timeout(time.Minute * 10),
			HubRegistration:  Timeout(time.Minute * 10),
		},
		Polling: PollingConfiguration{
			NetworkStatusInterval: Timeout(time.Second),
			IpcdInterval:          Timeout(time.Second * 2),
			IpcdMaxAttempts:       30,
			HubInterval:           Timeout(time.Second * 2),
		},
		Cloud: CloudConfiguration{
			NATSURL:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "platform",
			PlaceID:        "",
			RequestTimeout: Timeout(time.Second * 10),
		},
		Bluetooth: BluetoothConfiguration{
			NameFilter:     "Iris_",
			AutoConnect:    Tribool(0),
			ConnectTimeout: Timeout(time.Second * 30),
			MinFirmware:    "",
		},
	}

	// Can be overwritten via cli arguments.
	ConfigFilePath = "/etc/ble-pair.json"
	CLIDebug       = false
)

//nolint:recvcheck
type Tribool int

func (b Tribool) Get() bool {
	return b > 0
}

func (b Tribool) IsSet() bool {
	return b != 0
}

func (b Tribool) MarshalJSON() ([]byte, error) {
	if b == 1 {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func (b *Tribool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*b = 1
	case "false":
		*b = -1
	default:
		*b = 0
	}
	return nil
}

type Config struct {
	Debug     Tribool                `json:"debug,omitempty"`
	Crypto    CryptoConfiguration    `json:"crypto,omitempty"`
	Timeouts  TimeoutConfiguration   `json:"timeouts,omitempty"`
	Polling   PollingConfiguration   `json:"polling,omitempty"`
	Cloud     CloudConfiguration     `json:"cloud,omitempty"`
	Bluetooth BluetoothConfiguration `json:"bluetooth,omitempty"`
}

type CryptoConfiguration struct {
	// 20 hex characters, shared with device firmware.
	SharedSecret string `json:"shared_secret,omitempty"`
	// 32 hex characters, shared with device firmware.
	SharedIV string `json:"shared_iv,omitempty"`
}

type TimeoutConfiguration struct {
	// How long the device gets to report a terminal wifi status after credentials are written.
	WiFiConnection Timeout `json:"wifi_connection_minutes,omitempty"`
	// Reconnect flows only: how long the cloud record gets to show the new SSID.
	SSIDUpdate Timeout `json:"ssid_update_minutes,omitempty"`
	// Hard limits for the two cloud registration protocols.
	IpcdRegistration Timeout `json:"ipcd_registration_minutes,omitempty"`
	HubRegistration  Timeout `json:"hub_registration_minutes,omitempty"`
}

type PollingConfiguration struct {
	NetworkStatusInterval Timeout `json:"network_status_interval,omitempty"`
	IpcdInterval          Timeout `json:"ipcd_interval,omitempty"`
	IpcdMaxAttempts       int     `json:"ipcd_max_attempts,omitempty"`
	HubInterval           Timeout `json:"hub_interval,omitempty"`
}

type CloudConfiguration struct {
	NATSURL        string  `json:"nats_url,omitempty"`
	SubjectPrefix  string  `json:"subject_prefix,omitempty"`
	PlaceID        string  `json:"place_id,omitempty"`
	RequestTimeout Timeout `json:"request_timeout,omitempty"`
}

type BluetoothConfiguration struct {
	// Advertised name prefix used when scanning for unpaired devices.
	NameFilter     string  `json:"name_filter,omitempty"`
	AutoConnect    Tribool `json:"auto_connect,omitempty"`
	ConnectTimeout Timeout `json:"connect_timeout,omitempty"`
	// If set, devices reporting an older firmware revision are flagged in the logs.
	MinFirmware string `json:"min_firmware,omitempty"`
}

func DefaultConfig() Config {
	cfg := Config{}
	// round-trip to get a deep copy of the default config
	defBytes, err := json.Marshal(DefaultConfiguration)
	if err != nil {
		panic(err)
	}
	err = json.Unmarshal(defBytes, &cfg)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads a JSON (comments allowed) config from path and stacks it over the defaults.
// A missing file is not an error. The returned config is always usable, even when err is non-nil.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	var errOut error

	//nolint:gosec
	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			errOut = errors.Join(errOut, errw.Wrapf(err, "reading %s", path))
		}
	} else {
		if err := json.Unmarshal(jsonc.ToJSON(jsonBytes), &cfg); err != nil {
			errOut = errors.Join(errOut, errw.Wrapf(err, "parsing %s", path))
			cfg = DefaultConfig()
		}
	}

	validatedCfg, err := validateConfig(cfg)
	return validatedCfg, errors.Join(errOut, err)
}

func ApplyCLIArgs(cfg Config) Config {
	if CLIDebug {
		cfg.Debug = 1
	}
	return cfg
}

// StackConfigs merges nextCfg over startCfg.
func StackConfigs(startCfg, nextCfg Config) (Config, error) {
	cfg := startCfg
	var errOut error

	jsonBytes, err := json.Marshal(nextCfg)
	if err != nil {
		errOut = errors.Join(errOut, err)
	} else {
		if err := json.Unmarshal(jsonBytes, &cfg); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return cfg, errOut
}

// validateConfig enforces min/max values, returning a "corrected" config and error(s) for each issue encountered.
// Should only be called where input will NEVER be reused due to direct modification of struct fields.
func validateConfig(cfg Config) (Config, error) {
	var errOut error

	// Crypto
	if cfg.Crypto.SharedSecret != "" && !isHexOfLength(cfg.Crypto.SharedSecret, 20) {
		errOut = errors.Join(errOut, errw.New("crypto.shared_secret must be exactly 20 hex characters"))
		cfg.Crypto.SharedSecret = DefaultConfiguration.Crypto.SharedSecret
	}
	if cfg.Crypto.SharedIV != "" && !isHexOfLength(cfg.Crypto.SharedIV, 32) {
		errOut = errors.Join(errOut, errw.New("crypto.shared_iv must be exactly 32 hex characters"))
		cfg.Crypto.SharedIV = DefaultConfiguration.Crypto.SharedIV
	}

	// Timeouts
	var haveBadTimeout bool
	minTimeout := Timeout(time.Second * 10)
	if cfg.Timeouts.WiFiConnection < minTimeout {
		cfg.Timeouts.WiFiConnection = DefaultConfiguration.Timeouts.WiFiConnection
		haveBadTimeout = true
	}
	if cfg.Timeouts.SSIDUpdate < minTimeout {
		cfg.Timeouts.SSIDUpdate = DefaultConfiguration.Timeouts.SSIDUpdate
		haveBadTimeout = true
	}
	if cfg.Timeouts.IpcdRegistration < minTimeout {
		cfg.Timeouts.IpcdRegistration = DefaultConfiguration.Timeouts.IpcdRegistration
		haveBadTimeout = true
	}
	if cfg.Timeouts.HubRegistration < minTimeout {
		cfg.Timeouts.HubRegistration = DefaultConfiguration.Timeouts.HubRegistration
		haveBadTimeout = true
	}
	if haveBadTimeout {
		errOut = errors.Join(errOut, errw.Errorf("timeout values cannot be less than %s", time.Duration(minTimeout)))
	}

	// Polling
	if cfg.Polling.NetworkStatusInterval < Timeout(time.Millisecond*100) {
		errOut = errors.Join(errOut, errw.Errorf("polling.network_status_interval must be >= 100ms (was: %s)",
			time.Duration(cfg.Polling.NetworkStatusInterval)))
		cfg.Polling.NetworkStatusInterval = DefaultConfiguration.Polling.NetworkStatusInterval
	}
	if cfg.Polling.IpcdInterval < Timeout(time.Millisecond*500) {
		errOut = errors.Join(errOut, errw.Errorf("polling.ipcd_interval must be >= 500ms (was: %s)",
			time.Duration(cfg.Polling.IpcdInterval)))
		cfg.Polling.IpcdInterval = DefaultConfiguration.Polling.IpcdInterval
	}
	if cfg.Polling.HubInterval < Timeout(time.Millisecond*500) {
		errOut = errors.Join(errOut, errw.Errorf("polling.hub_interval must be >= 500ms (was: %s)",
			time.Duration(cfg.Polling.HubInterval)))
		cfg.Polling.HubInterval = DefaultConfiguration.Polling.HubInterval
	}
	if cfg.Polling.IpcdMaxAttempts < 1 || cfg.Polling.IpcdMaxAttempts > 1000 {
		errOut = errors.Join(errOut, errw.Errorf("polling.ipcd_max_attempts must be between 1 and 1000 (was: %d)",
			cfg.Polling.IpcdMaxAttempts))
		cfg.Polling.IpcdMaxAttempts = DefaultConfiguration.Polling.IpcdMaxAttempts
	}

	// Cloud
	if cfg.Cloud.SubjectPrefix == "" || strings.ContainsAny(cfg.Cloud.SubjectPrefix, " *>") {
		errOut = errors.Join(errOut, errw.Errorf("cloud.subject_prefix must be a literal NATS subject token (was: %q)",
			cfg.Cloud.SubjectPrefix))
		cfg.Cloud.SubjectPrefix = DefaultConfiguration.Cloud.SubjectPrefix
	}
	if cfg.Cloud.RequestTimeout < Timeout(time.Second) {
		cfg.Cloud.RequestTimeout = DefaultConfiguration.Cloud.RequestTimeout
	}

	// Bluetooth
	if cfg.Bluetooth.ConnectTimeout < Timeout(time.Second) {
		cfg.Bluetooth.ConnectTimeout = DefaultConfiguration.Bluetooth.ConnectTimeout
	}
	if cfg.Bluetooth.MinFirmware != "" {
		if _, err := semver.NewVersion(cfg.Bluetooth.MinFirmware); err != nil {
			errOut = errors.Join(errOut, errw.Wrapf(err, "bluetooth.min_firmware is not a valid version (was: %s)",
				cfg.Bluetooth.MinFirmware))
			cfg.Bluetooth.MinFirmware = ""
		}
	}

	return cfg, errOut
}

func isHexOfLength(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Timeout allows parsing golang-style durations (1h20m30s) OR minutes-as-float from/to json.
type Timeout time.Duration

func (t Timeout) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(t).String())
}

func (t *Timeout) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*t = Timeout(value * float64(time.Minute))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*t = Timeout(tmp)
		return nil
	default:
		return errw.Errorf("invalid duration: %#v", v)
	}
}
