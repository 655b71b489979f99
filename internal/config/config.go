// Package config
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

// DefaultPath is where the ansible role drops the agent configuration
const DefaultPath = "/etc/zabbix/zabbix_agentd-mit-testssl.sh.conf"

const (
	DefaultScannerPath = "/opt/mit-testssl.sh/bin/mit-check-cert.sh"
	DefaultSenderPath  = "zabbix_sender"
	DefaultLogLevel    = "info"
)

// Config holds every recognised key of the DEFAULT section
type Config struct {
	// Zabbix API
	APIURL                  string        `ini:"zabbix-api.url" validate:"required,url"`
	APIUser                 string        `ini:"zabbix-api.user" validate:"required"`
	APIPassword             string        `ini:"zabbix-api.password" validate:"required"`
	APIVerify               string        `ini:"zabbix-api.verify"`
	CertificateVerification bool          `ini:"zabbix-api.certificate_verification"`
	APIProxy                string        `ini:"zabbix-api.proxy" validate:"omitempty,url"`
	APITimeout              time.Duration `ini:"zabbix-api.timeout" validate:"gte=0"`

	// zabbix_sender
	ZabbixHost    string        `ini:"zabbix.host" validate:"required"`
	SenderPath    string        `ini:"zabbix.sender"`
	SenderTimeout time.Duration `ini:"zabbix.sender_timeout" validate:"gte=0"`

	// Scanner
	ScannerPath    string        `ini:"mit-check-cert.scanner"`
	ScannerTimeout time.Duration `ini:"mit-check-cert.scanner_timeout" validate:"gte=0"`

	LogLevel string `ini:"mit-check-cert.log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Load reads the INI file at path and returns a validated configuration
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes INI content. Keys are looked up in the DEFAULT section,
// which also covers keys written before any section header.
func Parse(data []byte) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:         true,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{CertificateVerification: true}
	if err := decodeSection(file.Section(ini.DefaultSection), cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeSection copies the keys named by the ini tags into cfg. Values are
// taken verbatim: no %(name)s interpolation and no quote stripping.
func decodeSection(section *ini.Section, cfg *Config) error {
	validationErrs := &ValidationErrors{}

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("ini")
		if name == "" || !section.HasKey(name) {
			continue
		}
		raw := section.Key(name).Value()
		field := v.Field(i)

		switch {
		case field.Type() == durationType:
			// a bare number would silently become nanoseconds
			d, err := time.ParseDuration(strings.TrimSpace(raw))
			if err != nil {
				validationErrs.Errors = append(validationErrs.Errors, ValidationError{
					Key:     name,
					Message: fmt.Sprintf("%s must be a duration with a unit such as 30s or 5m, got %q", name, raw),
				})
				continue
			}
			field.SetInt(int64(d))
		case field.Kind() == reflect.Bool:
			b, ok := parseBool(raw)
			if !ok {
				validationErrs.Errors = append(validationErrs.Errors, ValidationError{
					Key:     name,
					Message: fmt.Sprintf("%s must be a boolean, got %q", name, raw),
				})
				continue
			}
			field.SetBool(b)
		case field.Kind() == reflect.String:
			field.SetString(raw)
		}
	}

	if len(validationErrs.Errors) > 0 {
		return validationErrs
	}
	return nil
}

// parseBool accepts the spellings of configparser.getboolean
func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "on":
		return true, true
	case "0", "no", "false", "off":
		return false, true
	}
	return false, false
}

// ApplyDefaults fills optional keys that were left empty
func (c *Config) ApplyDefaults() {
	c.APIVerify = strings.TrimSpace(c.APIVerify)
	if c.ScannerPath == "" {
		c.ScannerPath = DefaultScannerPath
	}
	if c.SenderPath == "" {
		c.SenderPath = DefaultSenderPath
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// Global validator instance
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report INI key names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("ini"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate ensures all required keys are set
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	validationErrs := &ValidationErrors{}
	for _, e := range fieldErrs {
		validationErrs.Errors = append(validationErrs.Errors, ValidationError{
			Key:     e.Field(),
			Message: formatValidationMessage(e),
		})
	}
	return validationErrs
}

// ValidationError represents a key-level validation error
type ValidationError struct {
	Key     string
	Message string
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = e.Message
	}
	return strings.Join(messages, "; ")
}

// Has reports whether key failed validation
func (v *ValidationErrors) Has(key string) bool {
	for _, e := range v.Errors {
		if e.Key == key {
			return true
		}
	}
	return false
}

func formatValidationMessage(e validator.FieldError) string {
	key := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", key)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, e.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", key)
	default:
		return fmt.Sprintf("%s failed %s validation", key, e.Tag())
	}
}
