package encoding

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/reagent/pkg/llmutils"
	"gopkg.in/yaml.v3"
)

// Mode selects the text format of an encoded value.
type Mode = string

const (
	ModeJSON Mode = "json"
	ModeYAML Mode = "yaml"
	ModeTOML Mode = "toml"
)

// ModeDefault is used when no mode is given.
// Allow to override in apps
var ModeDefault = ModeJSON

// ParseMode returns the Mode named by s, case insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ModeDefault, nil
	case ModeJSON:
		return ModeJSON, nil
	case ModeYAML, "yml":
		return ModeYAML, nil
	case ModeTOML:
		return ModeTOML, nil
	default:
		return "", errors.Newf("unsupported encoding mode: %q", s)
	}
}

// Marshal encodes v in the given mode.
// The value is normalized through its JSON form first,
// so json tags name the fields in every format.
func Marshal(mode Mode, v any) ([]byte, error) {
	if mode == "" {
		mode = ModeDefault
	}
	switch mode {
	case ModeJSON:
		js, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode JSON")
		}
		return append(js, '\n'), nil
	case ModeYAML:
		doc, err := normalize(v)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(doc); err != nil {
			return nil, errors.Wrap(err, "failed to encode YAML")
		}
		_ = enc.Close()
		return buf.Bytes(), nil
	case ModeTOML:
		doc, err := normalize(v)
		if err != nil {
			return nil, err
		}
		table, ok := dropNulls(doc).(map[string]any)
		if !ok {
			return nil, errors.Newf("TOML requires an object, got %T", doc)
		}
		var buf bytes.Buffer
		if err = toml.NewEncoder(&buf).Encode(table); err != nil {
			return nil, errors.Wrap(err, "failed to encode TOML")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Newf("unsupported encoding mode: %q", mode)
	}
}

// Unmarshal decodes data in the given mode into v.
// Surrounding markdown fences are removed,
// and YAML or TOML documents are mapped onto v by its json tags.
func Unmarshal(mode Mode, data []byte, v any) error {
	if mode == "" {
		mode = ModeDefault
	}
	data = llmutils.BytesTrimBackticks(data)

	var doc any
	switch mode {
	case ModeJSON:
		if err := json.Unmarshal(llmutils.CleanJSON(data), v); err != nil {
			return errors.Wrap(err, "failed to decode JSON")
		}
		return nil
	case ModeYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return errors.Wrap(err, "failed to decode YAML")
		}
	case ModeTOML:
		m := map[string]any{}
		if _, err := toml.Decode(string(data), &m); err != nil {
			return errors.Wrap(err, "failed to decode TOML")
		}
		doc = m
	default:
		return errors.Newf("unsupported encoding mode: %q", mode)
	}

	js, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to convert %s document", mode)
	}
	if err = json.Unmarshal(js, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s document", mode)
	}
	return nil
}

func normalize(v any) (any, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode value")
	}
	var doc any
	d := json.NewDecoder(bytes.NewReader(js))
	d.UseNumber()
	if err = d.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode value")
	}
	return numbers(doc), nil
}

// numbers converts json.Number to int64 where it fits, otherwise float64.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = numbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = numbers(val)
		}
		return t
	default:
		return v
	}
}

// dropNulls removes null members and elements, TOML has no null.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []any:
		list := make([]any, 0, len(t))
		for _, val := range t {
			if val != nil {
				list = append(list, dropNulls(val))
			}
		}
		return list
	default:
		return v
	}
}
