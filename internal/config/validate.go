package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/megaputer/pa6-go/pkg/pa6"
)

const minChunkBytes = 64 * 1024

var validate = newValidator()

// newValidator reports fields by their TOML key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}

		return name
	})

	return v
}

// Validate checks every value in the file and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, structErrors(cfg)...)
	errs = append(errs, validateSections("", cfg.Network, cfg.Polling, cfg.Transfers)...)

	for _, name := range profileNames(cfg) {
		errs = append(errs, validateProfile(name, cfg.Profiles[name])...)
	}

	return errors.Join(errs...)
}

func validateProfile(name string, p Profile) []error {
	var errs []error

	prefix := "profile." + name + "."

	if p.APIVersion != "" && !pa6.IsSupportedVersion(p.APIVersion) {
		errs = append(errs, fmt.Errorf("%sapi_version: unsupported version %q (supported: %s)",
			prefix, p.APIVersion, strings.Join(pa6.SupportedVersions, ", ")))
	}

	if p.Token != "" && p.Password != "" {
		errs = append(errs, fmt.Errorf("%stoken: cannot be combined with password", prefix))
	}

	network := resolveSection(p.Network, NetworkConfig{})
	polling := resolveSection(p.Polling, PollingConfig{})
	transfers := resolveSection(p.Transfers, TransfersConfig{})

	return append(errs, validateSections(prefix, network, polling, transfers)...)
}

func validateSections(prefix string, n NetworkConfig, p PollingConfig, t TransfersConfig) []error {
	var errs []error

	durations := []struct{ key, val string }{
		{"network.timeout", n.Timeout},
		{"network.retry_wait", n.RetryWait},
		{"polling.interval", p.Interval},
	}

	for _, d := range durations {
		if _, err := parseDuration(prefix+d.key, d.val); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := parseChunkSize(t.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("%s%w", prefix, err))
	}

	return errs
}

// structErrors flattens validator tag failures into one error per field.
func structErrors(v any) []error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: %s", fieldKey(fe.Namespace()), describe(fe)))
	}

	return errs
}

// fieldKey turns "Config.profile[prod].url" into "profile.prod.url".
func fieldKey(ns string) string {
	_, key, _ := strings.Cut(ns, ".")
	key = strings.NewReplacer("[", ".", "]", "").Replace(key)

	return key
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "http_url":
		return fmt.Sprintf("must be an http(s) URL, got %q", fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "ne":
		return fmt.Sprintf("must not be %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// ValidateResolved checks what only makes sense after every override layer
// has been applied: a server to talk to and a way to authenticate.
func ValidateResolved(rp *ResolvedProfile) error {
	var errs []error

	if rp.URL == "" {
		errs = append(errs, fmt.Errorf("url: required (set it in [profile.%s] or %s)", rp.Name, EnvURL))
	}

	if rp.Username == "" && rp.Token == "" {
		errs = append(errs, fmt.Errorf("username: required unless a token is given (%s or %s)",
			EnvUsername, EnvToken))
	}

	if ca := rp.Network.CAFile; ca != "" {
		if _, err := os.Stat(expandTilde(ca)); err != nil {
			errs = append(errs, fmt.Errorf("network.ca_file: %w", err))
		}
	}

	return errors.Join(errs...)
}
