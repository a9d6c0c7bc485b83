package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(configKey)
	})
	return validate
}

// configKey names fields by their mapstructure key so errors read like the
// config file. Fields without a key keep their Go name.
func configKey(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				key := strings.TrimPrefix(fe.Namespace(), "Config.")
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v, param %q)",
					key, fe.Tag(), fe.Value(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return err
	}

	switch cfg.Store.Type {
	case StoreBadger:
		if cfg.Store.Badger.Path == "" && !cfg.Store.Badger.InMemory {
			return fmt.Errorf("store.badger.path is required unless in_memory is set")
		}
	case StoreSQLite, StorePostgres:
		if err := sqlConfig(&cfg.Store).Validate(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}

	if cfg.Link.StaleAfter > 0 && cfg.Link.SweepInterval > cfg.Link.StaleAfter {
		return fmt.Errorf("link.sweep_interval (%s) must not exceed link.stale_after (%s)",
			cfg.Link.SweepInterval, cfg.Link.StaleAfter)
	}
	return nil
}
