// Package resource defines the uniform resource record produced by the cloud
// client and consumed by the compliance, cost, and suggestion services.
package resource

import (
	"fmt"
	"strings"
	"time"
)

// GlobalRegion is the synthetic region for account-level resources (S3
// buckets, IAM entities, CloudFront distributions, Route53 zones). Global
// resources ignore every region filter.
const GlobalRegion = "global"

// Resource is the uniform shape every discovery call returns. It is created
// once per scan and never mutated afterwards.
type Resource struct {
	ARN    string            `json:"arn"`
	Type   string            `json:"resource_type"` // canonical "service:kind" string
	Region string            `json:"region"`
	Tags   map[string]string `json:"tags"`

	// Optional enrichment, present only where the discovery API provides it.
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	State        string     `json:"state,omitempty"`         // compute types: running, stopped, ...
	InstanceSize string     `json:"instance_size,omitempty"` // compute types: t3.micro, m5.large, ...
	Name         string     `json:"name,omitempty"`
}

// DisplayName prefers the Name tag, falling back to the last ARN segment.
func (r Resource) DisplayName() string {
	if n, ok := r.Tags["Name"]; ok && n != "" {
		return n
	}
	if r.Name != "" {
		return r.Name
	}
	if i := strings.LastIndexAny(r.ARN, "/:"); i >= 0 && i < len(r.ARN)-1 {
		return r.ARN[i+1:]
	}
	return r.ARN
}

// IsGlobal reports whether the resource lives in the synthetic global region.
func (r Resource) IsGlobal() bool {
	return r.Region == GlobalRegion
}

// ARNParts is the decomposition of an AWS ARN.
type ARNParts struct {
	Partition string
	Service   string
	Region    string
	AccountID string
	Resource  string // "kind/id" or "kind:id" or bare id
}

// ParseARN splits an ARN into its components. It accepts the shortened forms
// S3 and Route53 use (empty region/account fields).
func ParseARN(arn string) (ARNParts, error) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return ARNParts{}, fmt.Errorf("malformed ARN %q", arn)
	}
	return ARNParts{
		Partition: parts[1],
		Service:   parts[2],
		Region:    parts[3],
		AccountID: parts[4],
		Resource:  parts[5],
	}, nil
}

// Kind returns the resource kind segment of the ARN ("instance" for
// "instance/i-0abc"), or the whole resource field when there is no separator.
func (p ARNParts) Kind() string {
	if i := strings.IndexAny(p.Resource, "/:"); i >= 0 {
		return p.Resource[:i]
	}
	return p.Resource
}

// ID returns the trailing identifier segment of the ARN resource field.
func (p ARNParts) ID() string {
	if i := strings.LastIndexAny(p.Resource, "/:"); i >= 0 && i < len(p.Resource)-1 {
		return p.Resource[i+1:]
	}
	return p.Resource
}

// TypeString maps ARN parts to the canonical "service:kind" type string used
// by the policy and the catalog (e.g. "ec2:instance", "s3:bucket").
func (p ARNParts) TypeString() string {
	kind := p.Kind()
	if kind == "" || kind == p.Resource {
		// Services like S3 put the bare name in the resource field.
		switch p.Service {
		case "s3":
			return "s3:bucket"
		case "sqs":
			return "sqs:queue"
		case "sns":
			return "sns:topic"
		}
		return p.Service + ":" + p.Service
	}
	return p.Service + ":" + kind
}
