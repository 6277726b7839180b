package host

import (
	"fmt"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/services/calendar"
	"time"
)

// matches calendar.ScanInterval
const defaultRefresh = "@every 15m"

type SmtpConfig struct {
	Server       string `json:"server" yaml:"server"`
	Port         int    `json:"port" yaml:"port"`
	EmailAddress string `json:"email_address" yaml:"email_address"`
	Password     string `json:"password" yaml:"password"`
}

func (c *SmtpConfig) enabled() bool {
	return c != nil && c.Server != ""
}

// Entry is one account on the delivery portal.
type Entry struct {
	// Title names the calendar, the login email is a common choice.
	Title    string `json:"title" yaml:"title"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// NotifyEmail receives a message when the credentials stop working.
	NotifyEmail string `json:"notify_email" yaml:"notify_email"`
}

type Config struct {
	BaseUrl    string `json:"base_url" yaml:"base_url"`
	ListenPort int    `json:"listen_port" yaml:"listen_port"`
	// Refresh is a cron spec, descriptors like "@every 15m" are accepted.
	Refresh           string  `json:"refresh" yaml:"refresh"`
	HorizonDays       int     `json:"horizon_days" yaml:"horizon_days"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	// CloudflareBypass defaults to true when unset.
	CloudflareBypass *bool `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`
	// AccessToken, if set, is required as a bearer token on every endpoint
	// except /health.
	AccessToken string      `json:"access_token" yaml:"access_token"`
	Smtp        *SmtpConfig `json:"smtp" yaml:"smtp"`
	Entries     []Entry     `json:"entries" yaml:"entries"`
}

// Normalize fills in defaults for the fields that were left out.
func (c *Config) Normalize() {
	if c.BaseUrl == "" {
		c.BaseUrl = rakuraku.DefaultBaseUrl
	}
	if c.ListenPort <= 0 {
		c.ListenPort = 8000
	}
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 14
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.CloudflareBypass == nil {
		bypass := true
		c.CloudflareBypass = &bypass
	}
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FindEntry looks up an entry by its title or by the id of its calendar.
func (c Config) FindEntry(name string) (Entry, error) {
	for _, entry := range c.Entries {
		if entry.Title == name || calendar.EntityId(entry.Title) == name {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("no entry named %q", name)
}

// ClientOptions builds the session client options of an entry.
func (c Config) ClientOptions(entry Entry) rakuraku.ClientOptions {
	return rakuraku.ClientOptions{
		BaseUrl:           c.BaseUrl,
		Username:          entry.Username,
		Password:          entry.Password,
		Timeout:           c.Timeout(),
		RequestsPerSecond: c.RequestsPerSecond,
		CloudflareBypass:  c.CloudflareBypass != nil && *c.CloudflareBypass,
	}
}
