// Package mongo verifies a MongoDB deployment with a ping.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the MongoDB probe.
const Kind = "mongodb"

// Target is the resolved connection.
type Target struct {
	Descriptor *connection.Descriptor
	URI        string
	Database   string
}

// Capability pings the primary, or counts at most one document of the
// "collection" parameter.
type Capability struct{}

// New returns the MongoDB capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	uri := strings.TrimSpace(d.Value)
	database := ""
	if d.IsKeyValue() {
		var kv struct {
			ConnectionString string
			Database         string
		}
		if err := connection.Bind(d, &kv); err != nil {
			return Target{}, err
		}
		uri, database = kv.ConnectionString, kv.Database
	}
	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
		return Target{}, fmt.Errorf("connection '%s' is not a mongodb:// or mongodb+srv:// URI", d.Name)
	}
	if database == "" {
		database = strings.Trim(u.Path, "/")
	}
	if v := p.Get("database"); v != "" {
		database = v
	}
	return Target{Descriptor: d, URI: uri, Database: database}, nil
}

func (c *Capability) CredentialHint(Target) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(ctx context.Context, t Target, _ *credential.Resolved, p verify.Params) (verify.Result, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(t.URI))
	if err != nil {
		return verify.Result{}, fmt.Errorf("connecting to mongodb: %w", err)
	}
	defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

	msg := verify.ConnectedMessage("Mongo", t.Descriptor)
	collection := p.Get("collection")
	if collection == "" {
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return verify.Result{}, fmt.Errorf("ping: %w", err)
		}
		return verify.Succeeded(msg, "ping=ok"), nil
	}

	if t.Database == "" {
		return verify.Result{}, verify.MissingParam("database")
	}
	n, err := client.Database(t.Database).Collection(collection).
		CountDocuments(ctx, bson.D{}, options.Count().SetLimit(1))
	if err != nil {
		return verify.Result{}, fmt.Errorf("counting %s.%s: %w", t.Database, collection, err)
	}
	return verify.Succeeded(msg, fmt.Sprintf("database=%s; collection=%s; hasDocuments=%t", t.Database, collection, n > 0)), nil
}
