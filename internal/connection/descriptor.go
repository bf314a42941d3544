// Package connection resolves logical connection names into descriptors.
//
// A descriptor carries the configured raw string, its value after secret
// references are expanded, the provider, and the parsed key/value section
// that typed views bind onto.
package connection

import (
	"fmt"
	"strings"
)

// Provider labels the kind of system a connection string targets.
type Provider string

const (
	ProviderDefault    Provider = "Default"
	ProviderCustom     Provider = "Custom"
	ProviderPostgreSQL Provider = "PostgreSQL"
	ProviderSQLServer  Provider = "SQLServer"
	ProviderMySQL      Provider = "MySQL"
	ProviderSQLite     Provider = "SQLite"
	ProviderCosmos     Provider = "Cosmos"
	ProviderMongo      Provider = "Mongo"
	ProviderRedis      Provider = "Redis"
	ProviderServiceBus Provider = "ServiceBus"
	ProviderBlob       Provider = "Blob"
	ProviderS3         Provider = "S3"
	ProviderKeyVault   Provider = "KeyVault"
	ProviderVault      Provider = "Vault"
	ProviderAWS        Provider = "AWS"
)

var providerAliases = map[string]Provider{
	"":           ProviderDefault,
	"default":    ProviderDefault,
	"postgres":   ProviderPostgreSQL,
	"postgresql": ProviderPostgreSQL,
	"npgsql":     ProviderPostgreSQL,
	"pgsql":      ProviderPostgreSQL,
	"sqlserver":  ProviderSQLServer,
	"mssql":      ProviderSQLServer,
	"mysql":      ProviderMySQL,
	"mariadb":    ProviderMySQL,
	"sqlite":     ProviderSQLite,
	"cosmos":     ProviderCosmos,
	"cosmosdb":   ProviderCosmos,
	"mongo":      ProviderMongo,
	"mongodb":    ProviderMongo,
	"redis":      ProviderRedis,
	"servicebus": ProviderServiceBus,
	"blob":       ProviderBlob,
	"azureblob":  ProviderBlob,
	"storage":    ProviderBlob,
	"s3":         ProviderS3,
	"minio":      ProviderS3,
	"keyvault":   ProviderKeyVault,
	"vault":      ProviderVault,
	"aws":        ProviderAWS,
}

// ParseProvider maps a configured provider label to a Provider. Labels that
// name no known provider map to ProviderCustom and are returned as custom.
func ParseProvider(label string) (p Provider, custom string) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	if p, ok := providerAliases[key]; ok {
		return p, ""
	}
	return ProviderCustom, strings.TrimSpace(label)
}

// Descriptor is the resolved view of one named connection string.
// It is built per lookup and not modified afterwards.
type Descriptor struct {
	Name           string            `json:"name"`
	Raw            string            `json:"raw"`             // As configured; may hold secret references.
	Value          string            `json:"-"`               // Raw with secret references expanded.
	Provider       Provider          `json:"provider"`
	CustomProvider string            `json:"custom,omitempty"` // Original label when Provider is Custom.
	Custom         map[string]string `json:"-"`               // Parsed key=value section of Value; nil when not key/value.
}

// Summary renders "name/provider/custom", the form used in success messages.
func (d *Descriptor) Summary() string {
	return fmt.Sprintf("%s/%s/%s", d.Name, d.Provider, d.CustomProvider)
}

// Lookup returns the custom value stored under key, ignoring case.
func (d *Descriptor) Lookup(key string) (string, bool) {
	if v, ok := d.Custom[key]; ok {
		return v, true
	}
	for k, v := range d.Custom {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// IsKeyValue reports whether the value parsed as a key=value string.
func (d *Descriptor) IsKeyValue() bool {
	return len(d.Custom) > 0
}

// NotFoundError reports an unknown connection name or a missing required
// input. It is never retried.
type NotFoundError struct {
	Kind     string // What was looked up, e.g. "connection string" or "parameter".
	Name     string
	Required bool // The input was absent rather than unknown.
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "connection string"
	}
	switch {
	case e.Name == "":
		return kind + " name is required"
	case e.Required:
		return fmt.Sprintf("%s '%s' is required", kind, e.Name)
	default:
		return fmt.Sprintf("%s '%s' not found", kind, e.Name)
	}
}

// Missing returns a NotFoundError for a required input that was absent.
func Missing(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name, Required: true}
}
