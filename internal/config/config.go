package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/sensor-node/internal/frame"
	"github.com/lorawan-server/sensor-node/pkg/lorawan"
)

// Config represents the node configuration
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Radio   RadioConfig   `yaml:"radio"`
	Sensors SensorsConfig `yaml:"sensors"`
	Outputs OutputsConfig `yaml:"outputs"`
	NATS    NATSConfig    `yaml:"nats"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	API     APIConfig     `yaml:"api"`
	JWT     JWTConfig     `yaml:"jwt"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig represents the duty-cycle settings
type NodeConfig struct {
	DevEUI     string `yaml:"dev_eui"`
	AppKey     string `yaml:"app_key"`
	AutoAppKey bool   `yaml:"auto_app_key"`
	// OpMode is vendor | lorawan | macless | vendor-slotted
	OpMode string `yaml:"op_mode"`
	// ActMode is otaa | abp
	ActMode string `yaml:"act_mode"`
	Class   string `yaml:"class"`
	// ReportInterval is the uplink period in seconds, at least 3
	ReportInterval int           `yaml:"report_interval"`
	RXWindow       time.Duration `yaml:"rx_window"`
	SyncTick       time.Duration `yaml:"sync_tick"`
	JoinPoll       time.Duration `yaml:"join_poll"`
	TxDoneTimeout  time.Duration `yaml:"tx_done_timeout"`
	DeepSleep      bool          `yaml:"deep_sleep"`
	UplinkPort     uint8         `yaml:"uplink_port"`
	Confirmed      bool          `yaml:"confirmed"`
	// Report lists the frame categories: temperature, humidity, co2, voc, gpio0, gpio1
	Report        []string `yaml:"report"`
	EventCapacity int      `yaml:"event_capacity"`
}

// RadioConfig represents the radio module settings
type RadioConfig struct {
	// Driver is stub | nats
	Driver    string        `yaml:"driver"`
	Region    string        `yaml:"region"`
	Frequency uint32        `yaml:"frequency"`
	DataRate  int           `yaml:"data_rate"`
	TXPower   int           `yaml:"tx_power"`
	JoinDelay time.Duration `yaml:"join_delay"`
	// SlotEnabled is reported by the stub driver as synchronized-slot capability
	SlotEnabled bool `yaml:"slot_enabled"`
}

// SensorsConfig selects the sensor drivers
type SensorsConfig struct {
	TempHum bool `yaml:"temp_hum"`
	CO2VOC  bool `yaml:"co2_voc"`
	Gas     bool `yaml:"gas"`
	// CO2Source is iaq | gas
	CO2Source    string `yaml:"co2_source"`
	GasSamples   int    `yaml:"gas_samples"`
	Seed         int64  `yaml:"seed"`
	IAQWarmup    int    `yaml:"iaq_warmup"`
	ExclusiveBus *bool  `yaml:"exclusive_bus"`
}

// OutputsConfig represents the GPIO output settings
type OutputsConfig struct {
	// Mirror publishes every level change to MQTT
	Mirror bool `yaml:"mirror"`
	// LowPowerPin drives the low-power indicator around deep sleep
	LowPowerPin bool `yaml:"low_power_pin"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ConnectRetries    int           `yaml:"connect_retries"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

// MQTTConfig represents the output mirror broker
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectRetries int           `yaml:"connect_retries"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AuthConfig is the single operator account of the local API
type AuthConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML and applies env overrides, defaults and validation
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when a field is absent
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			OpMode:         "lorawan",
			ActMode:        "otaa",
			Class:          "A",
			ReportInterval: 10,
			RXWindow:       4 * time.Second,
			SyncTick:       10 * time.Millisecond,
			JoinPoll:       time.Second,
			TxDoneTimeout:  30 * time.Second,
			DeepSleep:      true,
			UplinkPort:     1,
			AutoAppKey:     true,
			Report:         []string{"temperature", "humidity"},
		},
		Radio: RadioConfig{
			Driver:    "stub",
			Region:    "AS923",
			Frequency: 923300000,
			DataRate:  4,
			TXPower:   20,
			JoinDelay: 3 * time.Second,
		},
		Sensors: SensorsConfig{
			TempHum:    true,
			CO2Source:  "iaq",
			GasSamples: 5,
			Seed:       1,
		},
		NATS: NATSConfig{
			MaxReconnects:     -1,
			ReconnectInterval: 2 * time.Second,
			ConnectRetries:    5,
			SubjectPrefix:     "node",
		},
		MQTT: MQTTConfig{
			ClientID:       "sensor-node",
			TopicPrefix:    "sensor-node",
			QoS:            1,
			KeepAlive:      30 * time.Second,
			ConnectRetries: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		JWT: JWTConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 24 * time.Hour,
		},
		Auth: AuthConfig{
			Username: "admin",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if devEUI := os.Getenv("NODE_DEV_EUI"); devEUI != "" {
		c.Node.DevEUI = devEUI
	}

	if appKey := os.Getenv("NODE_APP_KEY"); appKey != "" {
		c.Node.AppKey = appKey
	}

	if interval := os.Getenv("NODE_REPORT_INTERVAL"); interval != "" {
		v, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("NODE_REPORT_INTERVAL: %w", err)
		}
		c.Node.ReportInterval = v
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	return nil
}

// setDefaults fills values that depend on other fields
func (c *Config) setDefaults() {
	if c.Node.UplinkPort == 0 {
		c.Node.UplinkPort = 1
	}
	if c.Node.EventCapacity <= 0 {
		c.Node.EventCapacity = 32
	}
	if c.Sensors.ExclusiveBus == nil {
		// the slotted firmware locks the bus around every sensor transfer
		exclusive := strings.EqualFold(c.Node.OpMode, "vendor-slotted") || c.Node.OpMode == "4"
		c.Sensors.ExclusiveBus = &exclusive
	}
	if c.Sensors.CO2Source == "gas" && !c.Sensors.Gas {
		c.Sensors.Gas = true
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if _, err := lorawan.ParseEUI64(c.Node.DevEUI); err != nil {
		return fmt.Errorf("node.dev_eui: %w", err)
	}
	if c.Node.AppKey != "" {
		if _, err := lorawan.ParseAES128Key(c.Node.AppKey); err != nil {
			return fmt.Errorf("node.app_key: %w", err)
		}
	} else if !c.Node.AutoAppKey {
		return fmt.Errorf("node.app_key is required when auto_app_key is disabled")
	}
	if _, err := lorawan.ParseOperatingMode(c.Node.OpMode); err != nil {
		return fmt.Errorf("node.op_mode: %w", err)
	}
	if _, err := lorawan.ParseActivationMode(c.Node.ActMode); err != nil {
		return fmt.Errorf("node.act_mode: %w", err)
	}
	if _, err := lorawan.ParseDeviceClass(c.Node.Class); err != nil {
		return fmt.Errorf("node.class: %w", err)
	}
	if c.Node.ReportInterval < 3 {
		return fmt.Errorf("node.report_interval must be at least 3 seconds, got %d", c.Node.ReportInterval)
	}
	if c.Node.RXWindow < 0 || c.Node.SyncTick <= 0 || c.Node.JoinPoll <= 0 {
		return fmt.Errorf("node.rx_window, sync_tick and join_poll must be positive")
	}
	if _, err := frame.ParseCategories(c.Node.Report); err != nil {
		return fmt.Errorf("node.report: %w", err)
	}

	switch c.Radio.Driver {
	case "stub":
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("radio.driver nats requires nats.url")
		}
	default:
		return fmt.Errorf("invalid radio.driver: %q", c.Radio.Driver)
	}

	region, err := lorawan.GetRegionConfiguration(c.Radio.Region)
	if err != nil {
		return fmt.Errorf("radio.region: %w", err)
	}
	if err := region.ValidateFrequency(c.Radio.Frequency); err != nil {
		return fmt.Errorf("radio.frequency: %w", err)
	}
	if err := region.ValidateDataRate(c.Radio.DataRate); err != nil {
		return fmt.Errorf("radio.data_rate: %w", err)
	}
	if err := region.ValidateTXPower(c.Radio.TXPower); err != nil {
		return fmt.Errorf("radio.tx_power: %w", err)
	}

	switch c.Sensors.CO2Source {
	case "iaq", "gas":
	default:
		return fmt.Errorf("invalid sensors.co2_source: %q", c.Sensors.CO2Source)
	}

	if c.Outputs.Mirror && c.MQTT.Broker == "" {
		return fmt.Errorf("outputs.mirror requires mqtt.broker")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api.port: %d", c.API.Port)
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}

	return nil
}

// Keys resolves the DevEUI, AppKey and DevAddr. derived reports whether the
// AppKey was generated from the DevEUI.
func (c *Config) Keys() (devEUI lorawan.EUI64, appKey lorawan.AES128Key, devAddr lorawan.DevAddr, derived bool, err error) {
	devEUI, err = lorawan.ParseEUI64(c.Node.DevEUI)
	if err != nil {
		return
	}
	devAddr = lorawan.DefaultDevAddr(devEUI)

	if c.Node.AppKey != "" {
		appKey, err = lorawan.ParseAES128Key(c.Node.AppKey)
		return
	}
	return devEUI, lorawan.DefaultAppKey(devEUI), devAddr, true, nil
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() Config {
	out := *c
	out.Node.AppKey = redact(out.Node.AppKey)
	out.NATS.Password = redact(out.NATS.Password)
	out.MQTT.Password = redact(out.MQTT.Password)
	out.JWT.Secret = redact(out.JWT.Secret)
	out.Auth.PasswordHash = redact(out.Auth.PasswordHash)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== Sensor Node Configuration ===\n")
	fmt.Printf("DevEui=%s\n", c.Node.DevEUI)
	if _, _, devAddr, derived, err := c.Keys(); err == nil {
		fmt.Printf("DevAddr=%s\n", devAddr)
		if derived {
			fmt.Printf("AppKey=<derived from DevEui, not secure>\n")
		} else {
			fmt.Printf("AppKey=%s\n", redact(c.Node.AppKey))
		}
	}
	fmt.Printf("DevOpMode=%s\n", c.Node.OpMode)
	fmt.Printf("DevActMode=%s\n", c.Node.ActMode)
	fmt.Printf("DevClass=%s\n", c.Node.Class)
	fmt.Printf("DevRptIntvlSec=%d\n", c.Node.ReportInterval)
	fmt.Printf("Report: %s\n", strings.Join(c.Node.Report, ","))
	fmt.Printf("Radio: driver=%s region=%s\n", c.Radio.Driver, c.Radio.Region)

	region, _ := lorawan.GetRegionConfiguration(c.Radio.Region)
	mode, _ := lorawan.ParseOperatingMode(c.Node.OpMode)
	if mode == lorawan.ModeVendor || mode == lorawan.ModeLoRaWAN {
		fmt.Printf("  DataRate: DR%d", c.Radio.DataRate)
		if region != nil && c.Radio.DataRate >= 0 && c.Radio.DataRate < len(region.DataRates) {
			dr := region.DataRates[c.Radio.DataRate]
			fmt.Printf(" (SF%d/%dkHz, max payload %d)", dr.SpreadFactor, dr.Bandwidth, region.MaxPayloadSize(c.Radio.DataRate))
		}
		fmt.Printf("\n")
	}
	if region != nil && mode == lorawan.ModeLoRaWAN {
		fmt.Printf("  RX2: %.1f MHz DR%d\n", float64(region.DefaultRX2Freq)/1000000, region.DefaultRX2DR)
		for i, ch := range region.DefaultChannels {
			fmt.Printf("  CH%d: %.1f MHz DR%d-DR%d\n", i, float64(ch.Frequency)/1000000, ch.MinDR, ch.MaxDR)
		}
	}
	if mode == lorawan.ModeVendor {
		fmt.Printf("  Frequency: %.1f MHz\n", float64(c.Radio.Frequency)/1000000)
		fmt.Printf("  TxPower: %d dBm\n", c.Radio.TXPower)
	}
	fmt.Printf("Deep sleep: %v\n", c.Node.DeepSleep)
	if c.API.Enabled {
		fmt.Printf("API: %s:%d\n", c.API.Host, c.API.Port)
	}
	fmt.Printf("==========================================\n")
}
