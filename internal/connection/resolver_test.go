package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/jkaninda/echoservice/internal/secrets"
)

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Lookup(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("database is locked")
}
func (failingSource) List(context.Context) ([]Entry, error) { return nil, errors.New("database is locked") }

func TestResolver_Resolve(t *testing.T) {
	src := NewStaticSource("config", []Entry{
		{Name: "Orders", Value: "AccountEndpoint=https://acct.documents.azure.com:443/;ManagedIdentityClientId=abc", Provider: "cosmos"},
		{Name: "Cache", Value: "redis://localhost:6379", Provider: "Orleans"},
	})
	r := NewResolver(nil, src)

	d, err := r.Resolve(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Name != "Orders" || d.Provider != ProviderCosmos {
		t.Errorf("got name=%q provider=%s, want Orders/Cosmos", d.Name, d.Provider)
	}
	if v, ok := d.Lookup("managedidentityclientid"); !ok || v != "abc" {
		t.Errorf("Lookup = (%q, %v), want (abc, true)", v, ok)
	}
	if got, want := d.Summary(), "Orders/Cosmos/"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}

	d, err = r.Resolve(context.Background(), "CACHE")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.IsKeyValue() {
		t.Error("URL value should not parse as key/value")
	}
	if got, want := d.Summary(), "Cache/Custom/Orleans"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver(nil, NewStaticSource("config", nil))

	for _, name := range []string{"", "  ", "missing"} {
		_, err := r.Resolve(context.Background(), name)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("Resolve(%q) error = %v, want *NotFoundError", name, err)
		}
	}
}

func TestResolver_SourceOrder(t *testing.T) {
	first := NewStaticSource("config", []Entry{{Name: "db", Value: "Host=first"}})
	second := NewStaticSource("store", []Entry{{Name: "db", Value: "Host=second"}, {Name: "other", Value: "Host=x"}})
	r := NewResolver(nil, first, second)

	d, err := r.Resolve(context.Background(), "db")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Value != "Host=first" {
		t.Errorf("Value = %q, want Host=first", d.Value)
	}

	all, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Name != "db" || all[0].Raw != "Host=first" || all[1].Name != "other" {
		t.Errorf("List returned %+v", all)
	}
}

func TestResolver_SourceError(t *testing.T) {
	r := NewResolver(nil, failingSource{})
	_, err := r.Resolve(context.Background(), "db")
	if err == nil {
		t.Fatal("expected error")
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		t.Errorf("source failure reported as not found: %v", err)
	}
}

func TestResolver_ExpandsSecretReferences(t *testing.T) {
	t.Setenv("ECHOSERVICE_TEST_PG_PASSWORD", "p;ss")
	t.Setenv("ECHOSERVICE_TEST_URL", "https://vault.example.com/")
	src := NewStaticSource("config", []Entry{
		{Name: "pg", Value: "Host=db;Password=env://ECHOSERVICE_TEST_PG_PASSWORD", Provider: "postgres"},
		{Name: "kv", Value: "env://ECHOSERVICE_TEST_URL"},
		{Name: "broken", Value: "Host=db;Password=env://ECHOSERVICE_TEST_UNSET"},
	})
	r := NewResolver(secrets.NewCompositeProvider(secrets.NewEnvProvider()), src)

	d, err := r.Resolve(context.Background(), "pg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v, _ := d.Lookup("Password"); v != "p;ss" {
		t.Errorf("Password = %q, want p;ss", v)
	}
	if d.Raw != "Host=db;Password=env://ECHOSERVICE_TEST_PG_PASSWORD" {
		t.Errorf("Raw was modified: %q", d.Raw)
	}

	d, err = r.Resolve(context.Background(), "kv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Value != "https://vault.example.com/" {
		t.Errorf("Value = %q", d.Value)
	}

	if _, err := r.Resolve(context.Background(), "broken"); !errors.Is(err, secrets.ErrSecretNotFound) {
		t.Errorf("error = %v, want ErrSecretNotFound", err)
	}
}
