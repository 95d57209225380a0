package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/schedule"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := schedule.ParseClock(fl.Field().String())
		return err == nil
	})
}

// Validate checks struct tags first, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Window.Timezone); err != nil {
		return unknownZone(cfg.Window.Timezone, schedule.ZoneNames())
	}

	if sameDir(cfg.HiddenDir, cfg.StoreDir) {
		return fmt.Errorf("hidden_dir: must differ from store_dir (%s)", cfg.StoreDir)
	}
	if within(cfg.HiddenDir, cfg.StoreDir) {
		return fmt.Errorf("hidden_dir: must not be inside store_dir (%s)", cfg.StoreDir)
	}

	seen := make(map[string]int, len(cfg.Targets))
	for i, target := range cfg.Targets {
		if j, dup := seen[target]; dup {
			return fmt.Errorf("targets[%d]: duplicate of targets[%d] %q", i, j, target)
		}
		seen[target] = i
	}
	return nil
}

func unknownZone(zone string, known []string) error {
	msg := fmt.Sprintf("window.timezone: unknown time zone %q", zone)
	if hints := resolve.Suggest(zone, known, 1); len(hints) > 0 {
		msg += fmt.Sprintf(" (did you mean %q?)", hints[0])
	}
	return errors.New(msg)
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
