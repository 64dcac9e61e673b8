package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/vidcap/internal/logging"
)

// EnvPrefix is prepended to every `env` tag when reading overrides.
const EnvPrefix = "VIDCAP_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills opts (a pointer to a flat struct) with precedence
// CLI args > env vars > config file. Fields carry `toml:"section.key"` and
// `env:"KEY"` tags; a string field named Config holds the file path.
// If cmd is provided, flags explicitly set on the command line are left alone.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: options must be a pointer to a struct, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	changed := changedFlags(cmd)
	skip := func(f reflect.StructField) bool { return changed[fieldNameToFlag(f.Name)] }

	if path := configPath(v); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var doc map[string]any
			if err := toml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
			}
			for i := 0; i < v.NumField(); i++ {
				field := t.Field(i)
				tomlPath := field.Tag.Get("toml")
				if tomlPath == "" || tomlPath == "-" || skip(field) {
					continue
				}
				if value := getNestedValue(doc, tomlPath); value != nil {
					setFieldValue(v.Field(i), value)
				}
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		envKey := field.Tag.Get("env")
		if envKey == "" || skip(field) {
			continue
		}
		if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
			setFieldValueFromString(v.Field(i), envValue)
		}
	}

	return nil
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

func configPath(v reflect.Value) string {
	f := v.FieldByName("Config")
	if !f.IsValid() || f.Kind() != reflect.String {
		return ""
	}
	return f.String()
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// setFieldValue assigns a decoded TOML value. Durations accept either a
// duration string ("750ms") or an integer number of milliseconds.
func setFieldValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		switch d := value.(type) {
		case string:
			if parsed, err := time.ParseDuration(d); err == nil {
				field.SetInt(int64(parsed))
			}
		case int64:
			field.SetInt(int64(time.Duration(d) * time.Millisecond))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		switch i := value.(type) {
		case int64:
			field.SetInt(i)
		case int:
			field.SetInt(int64(i))
		}
	case reflect.Float64:
		switch f := value.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		}
	case reflect.Slice:
		arr, ok := value.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return
		}
		slice := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, strOk := item.(string); strOk {
				slice = append(slice, s)
			}
		}
		field.Set(reflect.ValueOf(slice))
	}
}

// setFieldValueFromString sets a field value from string (for env vars).
// Unparseable values leave the field unchanged.
func setFieldValueFromString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(value); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(value, ",")
		slice := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				slice = append(slice, part)
			}
		}
		field.Set(reflect.ValueOf(slice))
	}
}

// LoadLoggingConfig reads the [logging] table of a TOML config file.
// Keys other than level and format are per-module levels.
// Returns the default config if the file doesn't exist or can't be parsed.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var rawConfig struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil || rawConfig.Logging == nil {
		return cfg
	}

	for key, value := range rawConfig.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}

	return cfg
}
