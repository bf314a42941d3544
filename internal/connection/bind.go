package connection

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/jkaninda/echoservice/internal/credential"
)

// Bind decodes the descriptor's key/value section onto target, a pointer
// to a struct. Keys match field names ignoring case, spaces, dashes and
// underscores, so "Managed Identity Client Id" binds ManagedIdentityClientID.
// Unknown keys are ignored and missing keys leave target unchanged.
func Bind(d *Descriptor, target any) error {
	input := make(map[string]any, len(d.Custom))
	for k, v := range d.Custom {
		input[normalizeKey(k)] = v
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		Squash:           true,
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == normalizeKey(fieldName)
		},
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("building decoder for '%s': %w", d.Name, err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("binding connection string '%s': %w", d.Name, err)
	}
	return nil
}

// GetTyped binds the descriptor onto a fresh T.
func GetTyped[T any](d *Descriptor) (T, error) {
	var out T
	err := Bind(d, &out)
	return out, err
}

// CredentialValue is the common "identity fields plus a value" view of a
// connection string, e.g. "Value=https://vault/;ManagedIdentityClientId=...".
type CredentialValue struct {
	credential.Hint `mapstructure:",squash"`
	Value           string
}

// TryGetCredentialValue reads a CredentialValue. A value that is not a
// key/value connection string is returned whole in Value.
func TryGetCredentialValue(d *Descriptor) CredentialValue {
	if !d.IsKeyValue() {
		return CredentialValue{Value: strings.TrimSpace(d.Value)}
	}
	var cv CredentialValue
	if err := Bind(d, &cv); err != nil {
		return CredentialValue{Value: strings.TrimSpace(d.Value)}
	}
	return cv
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(k)))
}
