package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/rental-ops/internal/config"
)

func TestLoadAWSConfigRoutesOverrideEndpoint(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "me-central-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if awsCfg.Region != "me-central-1" {
		t.Fatalf("expected region to be set, got %s", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "test" {
		t.Fatalf("expected static credentials, got %+v (%v)", creds, err)
	}

	endpoint, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "me-central-1")
	if err != nil || endpoint.URL != "http://localhost:4566" {
		t.Fatalf("expected sqs override, got %+v (%v)", endpoint, err)
	}
	endpoint, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint(s3.ServiceID, "me-central-1")
	if err != nil || !endpoint.HostnameImmutable {
		t.Fatalf("expected immutable s3 hostname, got %+v (%v)", endpoint, err)
	}
	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("DynamoDB", "me-central-1")
	var notFound *aws.EndpointNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected other services to use default resolution, got %v", err)
	}
}

func TestAWSEnabled(t *testing.T) {
	if AWSEnabled(&appconfig.Config{Env: "development"}) {
		t.Fatalf("expected aws disabled in development without credentials")
	}
	if !AWSEnabled(&appconfig.Config{Env: "development", AWSEndpointOverride: "http://localhost:4566"}) {
		t.Fatalf("expected aws enabled with endpoint override")
	}
	if !AWSEnabled(&appconfig.Config{Env: "production"}) {
		t.Fatalf("expected aws enabled in production")
	}
}
