package configtypes

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/pkg/types"
)

// Purger defaults
const (
	DefaultPurgerName      = "Section"
	DefaultScheme          = "https"
	DefaultHostname        = "aperture.section.io"
	DefaultPort            = 443
	DefaultPath            = "/"
	DefaultAccount         = "1"
	DefaultApplication     = "100"
	DefaultEnvironment     = "Production"
	DefaultProxy           = "varnish"
	DefaultRequestMethod   = "POST"
	DefaultBodyContentType = "application/json"
	DefaultTagsHeader      = "Section-Cache-Tags"
	DefaultRawTagsHeader   = "Purge-Cache-Tags"
	DefaultDigestHeader    = "X-Cache-Tags-Digest"
	DefaultTimeout         = time.Second
	DefaultConnectTimeout  = time.Second
	DefaultMaxRequests     = 100
)

// Purger limits
const (
	MinTimeout         = 100 * time.Millisecond
	MaxTimeout         = 8 * time.Second
	MinConnectTimeout  = 100 * time.Millisecond
	MaxConnectTimeout  = 4 * time.Second
	MinCombinedTimeout = 400 * time.Millisecond
	MaxCombinedTimeout = 10 * time.Second
	MaxCooldownTime    = 3 * time.Second
	MinMaxRequests     = 1
	MaxMaxRequests     = 500
)

// Schemes accepted for the proxy API
var Schemes = []string{"http", "https"}

// RequestMethods accepted for ban requests
var RequestMethods = []string{"BAN", "GET", "POST", "HEAD", "PUT", "OPTIONS", "PURGE", "DELETE", "TRACE", "CONNECT"}

// PurgerConfig describes one proxy API endpoint and how ban requests are sent to it
type PurgerConfig struct {
	Name               string         `yaml:"name"`                // Label used in logs and status
	Scheme             string         `yaml:"scheme"`              // http or https
	Hostname           string         `yaml:"hostname"`            // Proxy API host (e.g., aperture.section.io)
	Port               int            `yaml:"port"`                // Proxy API port
	Path               string         `yaml:"path"`                // Path prefix, supports tokens
	Account            string         `yaml:"account"`             // Account id
	Application        string         `yaml:"application"`         // Application id
	Environment        string         `yaml:"environment"`         // Environment name (e.g., Production)
	Proxy              string         `yaml:"proxy"`               // Proxy instance name
	SiteName           string         `yaml:"site_name"`           // Restricts bans to one host of a shared proxy
	Username           string         `yaml:"username"`            // Basic auth user
	Password           string         `yaml:"password"`            // Secret reference (env:, file:, age:, plain:)
	IdentityFile       string         `yaml:"identity_file"`       // age identity used for age: references
	RequestMethod      string         `yaml:"request_method"`      // HTTP method for ban requests
	Headers            []HeaderConfig `yaml:"headers"`             // Custom headers, values support tokens
	Body               string         `yaml:"body"`                // Optional request body, supports tokens
	BodyContentType    string         `yaml:"body_content_type"`   // Content-Type used when a body is sent
	Timeout            types.Duration `yaml:"timeout"`             // Request timeout
	ConnectTimeout     types.Duration `yaml:"connect_timeout"`     // Dial timeout
	Verify             *bool          `yaml:"verify"`              // Verify TLS certificates (https only)
	HTTPErrors         *bool          `yaml:"http_errors"`         // Treat 4xx/5xx responses as failures
	CooldownTime       types.Duration `yaml:"cooldown_time"`       // Pause after a burst of requests
	MaxRequests        int            `yaml:"max_requests"`        // Ideal number of invalidations per run
	RuntimeMeasurement *bool          `yaml:"runtime_measurement"` // Estimate time hints from measured requests
	TagsHeader         string         `yaml:"tags_header"`         // Response header that carries tag hashes
	RawTagsHeader      string         `yaml:"raw_tags_header"`     // Response header that carries raw tags
	DigestHeader       string         `yaml:"digest_header"`       // Request header that carries the batch digest
	BundleTags         *bool          `yaml:"bundle_tags"`         // Send tags in batches of hashed tags
	Types              []string       `yaml:"types"`               // Advertised invalidation types (empty = all)
	AuditLog           AuditLogConfig `yaml:"audit_log"`           // Per-request audit file
}

// HeaderConfig is one custom request header
type HeaderConfig struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// IsVerify reports whether TLS certificates are verified (default: true)
func (c *PurgerConfig) IsVerify() bool {
	return boolOrDefault(c.Verify, true)
}

// IsHTTPErrors reports whether 4xx/5xx responses fail the request (default: true)
func (c *PurgerConfig) IsHTTPErrors() bool {
	return boolOrDefault(c.HTTPErrors, true)
}

// IsRuntimeMeasurement reports whether time hints use measured durations (default: true)
func (c *PurgerConfig) IsRuntimeMeasurement() bool {
	return boolOrDefault(c.RuntimeMeasurement, true)
}

// IsBundleTags reports whether tag invalidations are bundled (default: true)
func (c *PurgerConfig) IsBundleTags() bool {
	return boolOrDefault(c.BundleTags, true)
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ApplyDefaults fills every unset field with its default
func (c *PurgerConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultPurgerName
	}
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	c.Scheme = strings.ToLower(c.Scheme)
	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Account == "" {
		c.Account = DefaultAccount
	}
	if c.Application == "" {
		c.Application = DefaultApplication
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.Proxy == "" {
		c.Proxy = DefaultProxy
	}
	if c.RequestMethod == "" {
		c.RequestMethod = DefaultRequestMethod
	}
	c.RequestMethod = strings.ToUpper(c.RequestMethod)
	if c.BodyContentType == "" {
		c.BodyContentType = DefaultBodyContentType
	}
	if c.Timeout == 0 {
		c.Timeout = types.Duration(DefaultTimeout)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = types.Duration(DefaultConnectTimeout)
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.TagsHeader == "" {
		c.TagsHeader = DefaultTagsHeader
	}
	if c.RawTagsHeader == "" {
		c.RawTagsHeader = DefaultRawTagsHeader
	}
	if c.DigestHeader == "" {
		c.DigestHeader = DefaultDigestHeader
	}
}

// Validate checks ranges and enumerations. Call after ApplyDefaults.
func (c *PurgerConfig) Validate() error {
	if !contains(Schemes, c.Scheme) {
		return fmt.Errorf("purger.scheme must be one of %v, got '%s'", Schemes, c.Scheme)
	}
	if c.Hostname == "" {
		return fmt.Errorf("purger.hostname must be specified")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("purger.port must be between 1 and 65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("purger.path must start with '/', got '%s'", c.Path)
	}
	if !strings.HasSuffix(c.Path, "/") && !strings.Contains(c.Path, "{{") {
		return fmt.Errorf("purger.path must end with '/', got '%s'", c.Path)
	}
	if c.Account == "" || c.Application == "" || c.Environment == "" || c.Proxy == "" {
		return fmt.Errorf("purger.account, application, environment and proxy must be specified")
	}
	if !contains(RequestMethods, strings.ToUpper(c.RequestMethod)) {
		return fmt.Errorf("purger.request_method must be one of %v, got '%s'", RequestMethods, c.RequestMethod)
	}

	for i, h := range c.Headers {
		if strings.TrimSpace(h.Field) == "" {
			return fmt.Errorf("purger.headers[%d].field must be specified", i)
		}
		if strings.ContainsAny(h.Field, " :\r\n") {
			return fmt.Errorf("purger.headers[%d].field is not a valid header name: '%s'", i, h.Field)
		}
	}

	if err := ValidateTimeouts(c.Timeout.ToDuration(), c.ConnectTimeout.ToDuration()); err != nil {
		return err
	}

	cooldown := c.CooldownTime.ToDuration()
	if cooldown < 0 || cooldown > MaxCooldownTime {
		return fmt.Errorf("purger.cooldown_time must be between 0s and %v, got %v", MaxCooldownTime, cooldown)
	}
	if c.MaxRequests < MinMaxRequests || c.MaxRequests > MaxMaxRequests {
		return fmt.Errorf("purger.max_requests must be between %d and %d, got %d", MinMaxRequests, MaxMaxRequests, c.MaxRequests)
	}

	if strings.ContainsAny(c.TagsHeader, " :\"") {
		return fmt.Errorf("purger.tags_header is not a valid header name: '%s'", c.TagsHeader)
	}
	if strings.ContainsAny(c.RawTagsHeader, " :\"") {
		return fmt.Errorf("purger.raw_tags_header is not a valid header name: '%s'", c.RawTagsHeader)
	}
	if strings.EqualFold(c.TagsHeader, c.RawTagsHeader) {
		return fmt.Errorf("purger.tags_header and purger.raw_tags_header must differ, both are '%s'", c.TagsHeader)
	}

	for _, t := range c.Types {
		if _, err := invalidation.ParseType(t); err != nil {
			return fmt.Errorf("purger.types: %w", err)
		}
	}

	if c.AuditLog.Enabled && c.AuditLog.Path == "" {
		return fmt.Errorf("purger.audit_log.path must be specified when the audit log is enabled")
	}

	return nil
}

// ValidateTimeouts checks the request and connect timeouts, separately and combined
func ValidateTimeouts(timeout, connectTimeout time.Duration) error {
	if timeout < MinTimeout || timeout > MaxTimeout {
		return fmt.Errorf("purger.timeout must be between %v and %v, got %v", MinTimeout, MaxTimeout, timeout)
	}
	if connectTimeout < MinConnectTimeout || connectTimeout > MaxConnectTimeout {
		return fmt.Errorf("purger.connect_timeout must be between %v and %v, got %v", MinConnectTimeout, MaxConnectTimeout, connectTimeout)
	}

	total := timeout + connectTimeout
	if total > MaxCombinedTimeout {
		return fmt.Errorf("purger.timeout + connect_timeout (%v) cannot be higher than %v as this would affect performance too negatively", total, MaxCombinedTimeout)
	}
	if total < MinCombinedTimeout {
		return fmt.Errorf("purger.timeout + connect_timeout (%v) cannot be lower than %v as this can lead to too many failures under real usage conditions", total, MinCombinedTimeout)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
