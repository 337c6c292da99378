package utils

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseCLI applies a list of key=value tokens (like from a CLI) on top of
// an already populated struct. Keys are dotted paths of yaml tags, so
// "tls.enabled=true" sets the Enabled field of the struct tagged "tls".
// Fields not named in args keep their current value.
func ParseCLI(args []string, out interface{}) error {
	outType := reflect.TypeOf(out)
	if outType == nil || outType.Kind() != reflect.Ptr || outType.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ParseCLI(): expected a pointer to a struct, got %T", out)
	}

	fieldTypes := make(map[string]reflect.Type)
	buildFieldTypesMap(outType.Elem(), "", fieldTypes)

	data := map[string]interface{}{}
	for _, k := range args {
		components := strings.SplitN(k, "=", 2)
		if len(components) < 2 {
			return fmt.Errorf("invalid override %q: expected key=value", k)
		}
		varPath := strings.TrimSpace(components[0])
		fieldType, ok := fieldTypes[varPath]
		if !ok {
			return fmt.Errorf("unknown config key %q", varPath)
		}
		if fieldType.Kind() == reflect.Struct {
			return fmt.Errorf("config key %q is a section, set one of its fields", varPath)
		}
		val, err := convertValue(components[1], fieldType)
		if err != nil {
			return fmt.Errorf("config key %q: %v", varPath, err)
		}

		tmp := data
		pathElems := strings.Split(varPath, ".")
		for i, v := range pathElems {
			if i == len(pathElems)-1 {
				tmp[v] = val
				break
			}
			existing, ok := tmp[v]
			if !ok {
				newDict := map[string]interface{}{}
				tmp[v] = newDict
				tmp = newDict
				continue
			}
			existingDict, ok := existing.(map[string]interface{})
			if !ok {
				return fmt.Errorf("namespace collision: %v", v)
			}
			tmp = existingDict
		}
	}
	if len(data) == 0 {
		return nil
	}

	y, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(y, out); err != nil {
		return err
	}
	return nil
}

// buildFieldTypesMap maps the yaml tag path of every exported field to its type.
func buildFieldTypesMap(t reflect.Type, prefix string, fieldTypes map[string]reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(field.Name)
		}

		currentPath := tag
		if prefix != "" {
			currentPath = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			buildFieldTypesMap(field.Type, currentPath, fieldTypes)
		}
		fieldTypes[currentPath] = field.Type
	}
}

func convertValue(val string, fieldType reflect.Type) (interface{}, error) {
	switch fieldType.Kind() {
	case reflect.Bool:
		return strconv.ParseBool(val)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(val, 10, fieldType.Bits())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(val, 10, fieldType.Bits())
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(val, fieldType.Bits())
	case reflect.String:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", fieldType)
	}
}
