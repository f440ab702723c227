// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 6:10:27 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
)

// keyRefPattern matches {key-name} references in config strings
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_:-]+)\}`)

// ReplaceKeyReferences substitutes {key-name} references with values from kvMap.
// Lookups are case-insensitive because the stores normalize keys to lower case.
// Unknown references are left in place and logged.
func ReplaceKeyReferences(input string, kvMap map[string]string, logger arbor.ILogger) string {
	if input == "" {
		return input
	}

	return keyRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		keyName := strings.ToLower(match[1 : len(match)-1])
		if value, ok := kvMap[keyName]; ok {
			return value
		}
		logger.Warn().
			Str("reference", match).
			Msg("Unresolved key reference - key not found in KV store")
		return match
	})
}

// ReplaceInStruct walks the exported string fields of a struct pointer,
// including nested structs and string slices, and resolves key references.
// Values are never logged since they are usually secrets.
func ReplaceInStruct(v interface{}, kvMap map[string]string, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("ReplaceInStruct requires a non-nil pointer, got %T", v)
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("ReplaceInStruct requires a struct pointer, got pointer to %v", val.Kind())
	}

	replaceInStructValue(val, "", kvMap, logger)
	return nil
}

func replaceInStructValue(val reflect.Value, path string, kvMap map[string]string, logger arbor.ILogger) {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		name := path + typ.Field(i).Name

		switch field.Kind() {
		case reflect.String:
			if replaced := ReplaceKeyReferences(field.String(), kvMap, logger); replaced != field.String() {
				field.SetString(replaced)
				logger.Debug().Str("field", name).Msg("Resolved key reference")
			}
		case reflect.Struct:
			replaceInStructValue(field, name+".", kvMap, logger)
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				replaceInStructValue(field.Elem(), name+".", kvMap, logger)
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				elem := field.Index(j)
				if replaced := ReplaceKeyReferences(elem.String(), kvMap, logger); replaced != elem.String() {
					elem.SetString(replaced)
				}
			}
		}
	}
}

// ApplyKVReferences resolves {key-name} references in config against every
// entry in the key/value store, then re-validates the result
func ApplyKVReferences(ctx context.Context, config *Config, kv interfaces.KeyValueStorage, logger arbor.ILogger) error {
	pairs, err := kv.ListByPrefix(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list KV entries: %w", err)
	}

	kvMap := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kvMap[strings.ToLower(pair.Key)] = pair.Value
	}

	if err := ReplaceInStruct(config, kvMap, logger); err != nil {
		return err
	}
	return config.Validate()
}
