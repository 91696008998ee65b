package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tagwarden/tagwarden/pkg/resource"
)

// ListResources discovers every resource of the requested types in this
// client's region. Global types (s3:bucket, iam:*, cloudfront:distribution,
// route53:hostedzone) report region "global" regardless of the client region.
//
// Types whose list API does not include tags are enriched afterwards through
// the batch tagging API; see GetTagsForARNs.
func (c *Client) ListResources(ctx context.Context, types []string) ([]resource.Resource, error) {
	account, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	var all []resource.Resource
	for _, t := range types {
		lister, ok := c.listerFor(t)
		if !ok {
			c.logger.Warn("no lister for resource type, skipping", "type", t, "region", c.region)
			continue
		}
		rs, err := lister(ctx, account)
		if err != nil {
			return nil, err
		}
		all = append(all, rs...)
	}

	if err := c.enrichMissingTags(ctx, all); err != nil {
		// Tag enrichment failure degrades those resources to untagged rather
		// than failing the region; the compliance service will flag them.
		c.logger.Warn("batch tag enrichment failed", "region", c.region, "error", err)
	}
	return all, nil
}

type lister func(ctx context.Context, account string) ([]resource.Resource, error)

func (c *Client) listerFor(resourceType string) (lister, bool) {
	switch resourceType {
	case "ec2:instance":
		return c.listInstances, true
	case "ec2:volume":
		return c.listVolumes, true
	case "ec2:natgateway":
		return c.listNATGateways, true
	case "ec2:security-group":
		return c.listSecurityGroups, true
	case "ec2:vpc":
		return c.listVpcs, true
	case "ec2:subnet":
		return c.listSubnets, true
	case "rds:db":
		return c.listRDSInstances, true
	case "lambda:function":
		return c.listLambdaFunctions, true
	case "dynamodb:table":
		return c.listDynamoDBTables, true
	case "ecs:cluster":
		return c.listECSClusters, true
	case "elasticache:cluster":
		return c.listElastiCacheClusters, true
	case "s3:bucket":
		return c.listS3Buckets, true
	case "iam:role":
		return c.listIAMRoles, true
	case "iam:user":
		return c.listIAMUsers, true
	case "iam:policy":
		return c.listIAMPolicies, true
	case "route53:hostedzone":
		return c.listHostedZones, true
	case "cloudfront:distribution":
		return c.listDistributions, true
	}
	return nil, false
}

// instanceState reads the instance state name. DescribeInstances may omit
// the State block entirely.
func instanceState(inst ec2types.Instance) string {
	if inst.State == nil {
		return ""
	}
	return string(inst.State.Name)
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func (c *Client) listInstances(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeInstances", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeInstancesPaginator(c.ec2, &ec2.DescribeInstancesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, res := range page.Reservations {
				for _, inst := range res.Instances {
					id := aws.ToString(inst.InstanceId)
					out = append(out, resource.Resource{
						ARN:          fmt.Sprintf("arn:aws:ec2:%s:%s:instance/%s", c.region, account, id),
						Type:         "ec2:instance",
						Region:       c.region,
						Tags:         ec2Tags(inst.Tags),
						CreatedAt:    inst.LaunchTime,
						State:        instanceState(inst),
						InstanceSize: string(inst.InstanceType),
					})
				}
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listVolumes(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeVolumes", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeVolumesPaginator(c.ec2, &ec2.DescribeVolumesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, v := range page.Volumes {
				id := aws.ToString(v.VolumeId)
				out = append(out, resource.Resource{
					ARN:       fmt.Sprintf("arn:aws:ec2:%s:%s:volume/%s", c.region, account, id),
					Type:      "ec2:volume",
					Region:    c.region,
					Tags:      ec2Tags(v.Tags),
					CreatedAt: v.CreateTime,
					State:     string(v.State),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listNATGateways(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeNatGateways", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeNatGatewaysPaginator(c.ec2, &ec2.DescribeNatGatewaysInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, nat := range page.NatGateways {
				id := aws.ToString(nat.NatGatewayId)
				out = append(out, resource.Resource{
					ARN:       fmt.Sprintf("arn:aws:ec2:%s:%s:natgateway/%s", c.region, account, id),
					Type:      "ec2:natgateway",
					Region:    c.region,
					Tags:      ec2Tags(nat.Tags),
					CreatedAt: nat.CreateTime,
					State:     string(nat.State),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listSecurityGroups(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeSecurityGroups", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeSecurityGroupsPaginator(c.ec2, &ec2.DescribeSecurityGroupsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, sg := range page.SecurityGroups {
				id := aws.ToString(sg.GroupId)
				out = append(out, resource.Resource{
					ARN:    fmt.Sprintf("arn:aws:ec2:%s:%s:security-group/%s", c.region, account, id),
					Type:   "ec2:security-group",
					Region: c.region,
					Tags:   ec2Tags(sg.Tags),
					Name:   aws.ToString(sg.GroupName),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listVpcs(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeVpcs", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeVpcsPaginator(c.ec2, &ec2.DescribeVpcsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, vpc := range page.Vpcs {
				id := aws.ToString(vpc.VpcId)
				out = append(out, resource.Resource{
					ARN:    fmt.Sprintf("arn:aws:ec2:%s:%s:vpc/%s", c.region, account, id),
					Type:   "ec2:vpc",
					Region: c.region,
					Tags:   ec2Tags(vpc.Tags),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listSubnets(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ec2", "DescribeSubnets", func(ctx context.Context) error {
		out = out[:0]
		paginator := ec2.NewDescribeSubnetsPaginator(c.ec2, &ec2.DescribeSubnetsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, sn := range page.Subnets {
				id := aws.ToString(sn.SubnetId)
				out = append(out, resource.Resource{
					ARN:    fmt.Sprintf("arn:aws:ec2:%s:%s:subnet/%s", c.region, account, id),
					Type:   "ec2:subnet",
					Region: c.region,
					Tags:   ec2Tags(sn.Tags),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listRDSInstances(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "rds", "DescribeDBInstances", func(ctx context.Context) error {
		out = out[:0]
		paginator := rds.NewDescribeDBInstancesPaginator(c.rds, &rds.DescribeDBInstancesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, db := range page.DBInstances {
				tags := make(map[string]string, len(db.TagList))
				for _, t := range db.TagList {
					tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
				}
				out = append(out, resource.Resource{
					ARN:          aws.ToString(db.DBInstanceArn),
					Type:         "rds:db",
					Region:       c.region,
					Tags:         tags,
					CreatedAt:    db.InstanceCreateTime,
					State:        aws.ToString(db.DBInstanceStatus),
					InstanceSize: aws.ToString(db.DBInstanceClass),
					Name:         aws.ToString(db.DBInstanceIdentifier),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listLambdaFunctions(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "lambda", "ListFunctions", func(ctx context.Context) error {
		out = out[:0]
		paginator := lambda.NewListFunctionsPaginator(c.lambda, &lambda.ListFunctionsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, fn := range page.Functions {
				// ListFunctions returns no tags; the batch tagging pass
				// fills them in.
				out = append(out, resource.Resource{
					ARN:    aws.ToString(fn.FunctionArn),
					Type:   "lambda:function",
					Region: c.region,
					Name:   aws.ToString(fn.FunctionName),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listDynamoDBTables(ctx context.Context, account string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "dynamodb", "ListTables", func(ctx context.Context) error {
		out = out[:0]
		paginator := dynamodb.NewListTablesPaginator(c.dynamodb, &dynamodb.ListTablesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, name := range page.TableNames {
				out = append(out, resource.Resource{
					ARN:    fmt.Sprintf("arn:aws:dynamodb:%s:%s:table/%s", c.region, account, name),
					Type:   "dynamodb:table",
					Region: c.region,
					Name:   name,
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listECSClusters(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "ecs", "ListClusters", func(ctx context.Context) error {
		out = out[:0]
		paginator := ecs.NewListClustersPaginator(c.ecs, &ecs.ListClustersInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, arn := range page.ClusterArns {
				out = append(out, resource.Resource{
					ARN:    arn,
					Type:   "ecs:cluster",
					Region: c.region,
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listElastiCacheClusters(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "elasticache", "DescribeCacheClusters", func(ctx context.Context) error {
		out = out[:0]
		paginator := elasticache.NewDescribeCacheClustersPaginator(c.elasticache, &elasticache.DescribeCacheClustersInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, cc := range page.CacheClusters {
				out = append(out, resource.Resource{
					ARN:          aws.ToString(cc.ARN),
					Type:         "elasticache:cluster",
					Region:       c.region,
					CreatedAt:    cc.CacheClusterCreateTime,
					State:        aws.ToString(cc.CacheClusterStatus),
					InstanceSize: aws.ToString(cc.CacheNodeType),
					Name:         aws.ToString(cc.CacheClusterId),
				})
			}
		}
		return nil
	})
	return out, err
}

// Global listers. These report the synthetic global region.

func (c *Client) listS3Buckets(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "s3", "ListBuckets", func(ctx context.Context) error {
		out = out[:0]
		resp, err := c.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return err
		}
		for _, b := range resp.Buckets {
			name := aws.ToString(b.Name)
			out = append(out, resource.Resource{
				ARN:       "arn:aws:s3:::" + name,
				Type:      "s3:bucket",
				Region:    resource.GlobalRegion,
				CreatedAt: b.CreationDate,
				Name:      name,
			})
		}
		return nil
	})
	return out, err
}

func (c *Client) listIAMRoles(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "iam", "ListRoles", func(ctx context.Context) error {
		out = out[:0]
		paginator := iam.NewListRolesPaginator(c.iam, &iam.ListRolesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, r := range page.Roles {
				out = append(out, resource.Resource{
					ARN:       aws.ToString(r.Arn),
					Type:      "iam:role",
					Region:    resource.GlobalRegion,
					CreatedAt: r.CreateDate,
					Name:      aws.ToString(r.RoleName),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listIAMUsers(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "iam", "ListUsers", func(ctx context.Context) error {
		out = out[:0]
		paginator := iam.NewListUsersPaginator(c.iam, &iam.ListUsersInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, u := range page.Users {
				out = append(out, resource.Resource{
					ARN:       aws.ToString(u.Arn),
					Type:      "iam:user",
					Region:    resource.GlobalRegion,
					CreatedAt: u.CreateDate,
					Name:      aws.ToString(u.UserName),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listIAMPolicies(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "iam", "ListPolicies", func(ctx context.Context) error {
		out = out[:0]
		paginator := iam.NewListPoliciesPaginator(c.iam, &iam.ListPoliciesInput{
			Scope: "Local", // customer-managed only; AWS-managed policies are not taggable by us
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, p := range page.Policies {
				out = append(out, resource.Resource{
					ARN:       aws.ToString(p.Arn),
					Type:      "iam:policy",
					Region:    resource.GlobalRegion,
					CreatedAt: p.CreateDate,
					Name:      aws.ToString(p.PolicyName),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listHostedZones(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "route53", "ListHostedZones", func(ctx context.Context) error {
		out = out[:0]
		paginator := route53.NewListHostedZonesPaginator(c.route53, &route53.ListHostedZonesInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, z := range page.HostedZones {
				id := aws.ToString(z.Id) // "/hostedzone/Z123..."
				out = append(out, resource.Resource{
					ARN:    "arn:aws:route53:::" + trimLeadingSlash(id),
					Type:   "route53:hostedzone",
					Region: resource.GlobalRegion,
					Name:   aws.ToString(z.Name),
				})
			}
		}
		return nil
	})
	return out, err
}

func (c *Client) listDistributions(ctx context.Context, _ string) ([]resource.Resource, error) {
	var out []resource.Resource
	err := c.withRetry(ctx, "cloudfront", "ListDistributions", func(ctx context.Context) error {
		out = out[:0]
		paginator := cloudfront.NewListDistributionsPaginator(c.cloudfront, &cloudfront.ListDistributionsInput{})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			if page.DistributionList == nil {
				continue
			}
			for _, d := range page.DistributionList.Items {
				out = append(out, resource.Resource{
					ARN:    aws.ToString(d.ARN),
					Type:   "cloudfront:distribution",
					Region: resource.GlobalRegion,
					Name:   aws.ToString(d.Id),
				})
			}
		}
		return nil
	})
	return out, err
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
