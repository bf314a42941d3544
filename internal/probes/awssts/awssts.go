// Package awssts verifies AWS credentials with sts:GetCallerIdentity.
package awssts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Kind is the registry name of the AWS STS probe.
const Kind = "aws-sts"

// STSClient is the STS operation the probe calls.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Options is the connection string view. Without an access key the SDK's
// default chain (environment, shared config, instance role) is used.
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	Endpoint        string
}

// Target is the resolved connection plus its options.
type Target struct {
	Descriptor *connection.Descriptor
	Options    Options
}

// Identity is the probe's value.
type Identity struct {
	Account string `json:"account"`
	ARN     string `json:"arn"`
	UserID  string `json:"userId"`
}

// Capability calls GetCallerIdentity, which needs no IAM permission.
type Capability struct {
	newClient func(cfg aws.Config, endpoint string) STSClient
}

// New returns the AWS STS capability.
func New() *Capability {
	return &Capability{newClient: func(cfg aws.Config, endpoint string) STSClient {
		return sts.NewFromConfig(cfg, func(o *sts.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}}
}

func (c *Capability) Kind() string { return Kind }

func (c *Capability) ResolveConnection(ctx context.Context, conns verify.Connections, p verify.Params) (Target, error) {
	d, err := conns.Resolve(ctx, p.Name())
	if err != nil {
		return Target{}, err
	}
	var opts Options
	if d.IsKeyValue() {
		if err := connection.Bind(d, &opts); err != nil {
			return Target{}, err
		}
	} else {
		opts.Region = d.Value
	}
	if r := p.Get("region"); r != "" {
		opts.Region = r
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey == "" {
		return Target{}, connection.Missing("secret access key for connection", d.Name)
	}
	return Target{Descriptor: d, Options: opts}, nil
}

func (c *Capability) CredentialHint(Target) (*credential.Hint, bool) { return nil, false }

func (c *Capability) Probe(ctx context.Context, t Target, _ *credential.Resolved, _ verify.Params) (verify.Result, error) {
	cfg, err := loadConfig(ctx, t.Options)
	if err != nil {
		return verify.Result{}, err
	}
	out, err := c.newClient(cfg, t.Options.Endpoint).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return verify.Result{}, fmt.Errorf("sts GetCallerIdentity: %w", err)
	}
	id := Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}
	detail := fmt.Sprintf("account=%s; region=%s", id.Account, cfg.Region)
	return verify.SucceededWithValue(verify.ConnectedMessage("AwsSts", t.Descriptor), detail, id), nil
}

func loadConfig(ctx context.Context, o Options) (aws.Config, error) {
	var loaders []func(*config.LoadOptions) error
	if o.Region != "" {
		loaders = append(loaders, config.WithRegion(o.Region))
	}
	if o.Profile != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(o.Profile))
	}
	if o.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, o.SessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}
