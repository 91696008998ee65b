// Package cloud wraps the AWS SDK behind a read-only, rate-limited,
// region-bound client producing uniform resource records.
package cloud

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Narrow per-service interfaces so tests can substitute fakes without
// touching the SDK.

type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

type LambdaAPI interface {
	ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

type DynamoDBAPI interface {
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type ECSAPI interface {
	ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
}

type ElastiCacheAPI interface {
	DescribeCacheClusters(ctx context.Context, params *elasticache.DescribeCacheClustersInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error)
}

type IAMAPI interface {
	ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	ListUsers(ctx context.Context, params *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	ListPolicies(ctx context.Context, params *iam.ListPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListPoliciesOutput, error)
}

type Route53API interface {
	ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
}

type CloudFrontAPI interface {
	ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
}

type TaggingAPI interface {
	GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
	GetCostAndUsageWithResources(ctx context.Context, params *costexplorer.GetCostAndUsageWithResourcesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageWithResourcesOutput, error)
}

type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Client is a read-only view of one region. All SDK handles are
// pre-initialised; the pacer spaces calls per service; every outbound call
// retries on throttling with backoff.
type Client struct {
	region  string
	account string
	logger  *slog.Logger
	pacer   *pacer

	ec2         EC2API
	s3          S3API
	rds         RDSAPI
	lambda      LambdaAPI
	dynamodb    DynamoDBAPI
	ecs         ECSAPI
	elasticache ElastiCacheAPI
	iam         IAMAPI
	route53     Route53API
	cloudfront  CloudFrontAPI
	tagging     TaggingAPI
	sts         STSAPI

	// costexplorer is bound to the fixed cost region, never the client
	// region: the Cost Explorer API is only served from there, so
	// regionalising this handle would break every cost query.
	costexplorer CostExplorerAPI
}

// Options tune a client.
type Options struct {
	Region       string
	CostRegion   string
	Profile      string
	CallInterval time.Duration
	Logger       *slog.Logger
}

// NewClient loads AWS credentials and initialises every service handle for
// the region. The cost-explorer handle is pinned to opts.CostRegion.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	// Local endpoint override for mocking against localstack.
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(endpoint))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	costCfg := cfg.Copy()
	costCfg.Region = opts.CostRegion

	return newClientFromConfigs(cfg, costCfg, opts), nil
}

func newClientFromConfigs(cfg, costCfg aws.Config, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		region:       cfg.Region,
		logger:       logger,
		pacer:        newPacer(opts.CallInterval),
		ec2:          ec2.NewFromConfig(cfg),
		s3:           s3.NewFromConfig(cfg),
		rds:          rds.NewFromConfig(cfg),
		lambda:       lambda.NewFromConfig(cfg),
		dynamodb:     dynamodb.NewFromConfig(cfg),
		ecs:          ecs.NewFromConfig(cfg),
		elasticache:  elasticache.NewFromConfig(cfg),
		iam:          iam.NewFromConfig(cfg),
		route53:      route53.NewFromConfig(cfg),
		cloudfront:   cloudfront.NewFromConfig(cfg),
		tagging:      resourcegroupstaggingapi.NewFromConfig(cfg),
		sts:          sts.NewFromConfig(cfg),
		costexplorer: costexplorer.NewFromConfig(costCfg),
	}
}

// Region returns the region this client is bound to.
func (c *Client) Region() string { return c.region }

// AccountID resolves and memoises the caller's account id.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	if c.account != "" {
		return c.account, nil
	}
	var out *sts.GetCallerIdentityOutput
	err := c.withRetry(ctx, "sts", "GetCallerIdentity", func(ctx context.Context) error {
		var err error
		out, err = c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	})
	if err != nil {
		return "", err
	}
	c.account = aws.ToString(out.Account)
	return c.account, nil
}
