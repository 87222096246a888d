package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "fedgate"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int     `yaml:"httpPort"`
		Protocol         string  `yaml:"protocol"`
		SslDomain        string  `yaml:"sslDomain"`
		DbPath           string  `yaml:"dbPath"`
		CacheAddr        string  `yaml:"cacheAddr"`
		CachePassword    string  `yaml:"cachePassword" json:"-"`
		CacheDb          int     `yaml:"cacheDb"`
		RateLimit        int     `yaml:"rateLimit"`
		RateWindow       int     `yaml:"rateWindowSeconds"`
		InboxRate        float64 `yaml:"inboxRate"`
		InboxBurst       int     `yaml:"inboxBurst"`
		VerifySignatures bool    `yaml:"verifySignatures"`
		KeyBits          int     `yaml:"keyBits"`
		DeliveryInterval int     `yaml:"deliveryIntervalSeconds"`
		Debug            bool
	}
}

// BaseURL returns protocol and domain, e.g. "https://example.com".
func (c *AppConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", c.Conf.Protocol, c.Conf.SslDomain)
}

// RateWindowDuration is the rate limiter window as a duration.
func (c *AppConfig) RateWindowDuration() time.Duration {
	return time.Duration(c.Conf.RateWindow) * time.Second
}

// DeliveryIntervalDuration is the delivery worker tick as a duration.
func (c *AppConfig) DeliveryIntervalDuration() time.Duration {
	return time.Duration(c.Conf.DeliveryInterval) * time.Second
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)
	applyDefaults(c)

	return c, nil
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("FEDGATE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("FEDGATE_PROTOCOL"); v != "" {
		c.Conf.Protocol = v
	}
	if v := os.Getenv("FEDGATE_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if v := os.Getenv("FEDGATE_DBPATH"); v != "" {
		c.Conf.DbPath = v
	}
	if v, ok := os.LookupEnv("FEDGATE_CACHEADDR"); ok {
		c.Conf.CacheAddr = v
	}
	if v := os.Getenv("FEDGATE_CACHEPASSWORD"); v != "" {
		c.Conf.CachePassword = v
	}

	envInt("FEDGATE_HTTPPORT", &c.Conf.HttpPort)
	envInt("FEDGATE_CACHEDB", &c.Conf.CacheDb)
	envInt("FEDGATE_RATELIMIT", &c.Conf.RateLimit)
	envInt("FEDGATE_RATEWINDOW", &c.Conf.RateWindow)

	switch os.Getenv("FEDGATE_VERIFY_SIGNATURES") {
	case "true":
		c.Conf.VerifySignatures = true
	case "false":
		c.Conf.VerifySignatures = false
	}

	if os.Getenv("FEDGATE_DEBUG") == "true" {
		c.Conf.Debug = true
	}
}

func envInt(name string, target *int) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: ignoring %s=%q: %v", name, raw, err)
		return
	}
	*target = v
}

func applyDefaults(c *AppConfig) {
	if c.Conf.Protocol == "" {
		c.Conf.Protocol = "https"
	}
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9999
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "fedgate.db"
	}
	if c.Conf.RateWindow == 0 {
		c.Conf.RateWindow = 60
	}
	if c.Conf.InboxRate == 0 {
		c.Conf.InboxRate = 5
	}
	if c.Conf.InboxBurst == 0 {
		c.Conf.InboxBurst = 10
	}
	if c.Conf.KeyBits == 0 {
		c.Conf.KeyBits = 2048
	}
	if c.Conf.DeliveryInterval == 0 {
		c.Conf.DeliveryInterval = 10
	}
}
