// Package objectstore verifies an S3-compatible bucket through minio-go.
package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the S3 probe.
const Kind = "s3"

// Options is the connection string view:
// "Endpoint=https://minio:9000;AccessKeyId=...;SecretAccessKey=...;Bucket=backups".
// Without an access key the IAM provider (instance or task role) is used.
type Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Bucket          string
	UseSSL          *bool
}

// Target is the resolved connection plus a ready client configuration.
type Target struct {
	Descriptor *connection.Descriptor
	Options    Options
	Host       string
	Secure     bool
}

// Capability checks that a bucket exists, or stats the "object" parameter.
type Capability struct{}

// New returns the S3 capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	var opts Options
	if err := connection.Bind(d, &opts); err != nil {
		return Target{}, err
	}
	if b := p.Get("bucket"); b != "" {
		opts.Bucket = b
	}
	if opts.Endpoint == "" {
		return Target{}, connection.Missing("endpoint for connection", d.Name)
	}
	if opts.Bucket == "" {
		return Target{}, verify.MissingParam("bucket")
	}
	host, secure, err := splitEndpoint(opts.Endpoint)
	if err != nil {
		return Target{}, fmt.Errorf("connection '%s': %w", d.Name, err)
	}
	if opts.UseSSL != nil {
		secure = *opts.UseSSL
	}
	return Target{Descriptor: d, Options: opts, Host: host, Secure: secure}, nil
}

func (c *Capability) CredentialHint(Target) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(ctx context.Context, t Target, _ *credential.Resolved, p verify.Params) (verify.Result, error) {
	creds := credentials.NewIAM("")
	if t.Options.AccessKeyID != "" {
		creds = credentials.NewStaticV4(t.Options.AccessKeyID, t.Options.SecretAccessKey, t.Options.SessionToken)
	}
	client, err := minio.New(t.Host, &minio.Options{
		Creds:  creds,
		Secure: t.Secure,
		Region: t.Options.Region,
	})
	if err != nil {
		return verify.Result{}, fmt.Errorf("creating S3 client: %w", err)
	}
	msg := verify.ConnectedMessage("S3", t.Descriptor)
	bucket := t.Options.Bucket

	if object := p.Get("object"); object != "" {
		info, err := client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
		if err != nil {
			if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchBucket" {
				return verify.Result{}, &connection.NotFoundError{Kind: "object", Name: bucket + "/" + object}
			}
			return verify.Result{}, fmt.Errorf("stat %s/%s: %w", bucket, object, err)
		}
		detail := fmt.Sprintf("bucket=%s; object=%s; size=%d; modified=%s", bucket, object, info.Size, info.LastModified.UTC().Format("2006-01-02T15:04:05Z"))
		return verify.Succeeded(msg, detail), nil
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return verify.Result{}, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		return verify.Result{}, &connection.NotFoundError{Kind: "bucket", Name: bucket}
	}
	return verify.Succeeded(msg, fmt.Sprintf("bucket=%s; endpoint=%s", bucket, t.Host)), nil
}

// splitEndpoint accepts "host:port" or a URL and reports whether TLS is used.
func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
	default:
		return "", false, fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	return u.Host, secure, nil
}
