package aws

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/guardduty"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/securityhub"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
)

// Provider adapts the AWS SDK clients to the ResourceAPI descriptor
// contract. The session is read-only from the pipeline's perspective.
type Provider struct {
	region      string
	ec2         *ec2.EC2
	s3          *s3.S3
	iam         *iam.IAM
	securityHub *securityhub.SecurityHub
	guardDuty   *guardduty.GuardDuty
}

// NewProvider builds a provider from static credentials. An empty access
// key falls back to the SDK's default credential chain.
func NewProvider(accessKey, secretKey, region string) (*Provider, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if accessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	log.Infof("initialized AWS provider for region %s", region)
	return &Provider{
		region:      region,
		ec2:         ec2.New(sess),
		s3:          s3.New(sess),
		iam:         iam.New(sess),
		securityHub: securityhub.New(sess),
		guardDuty:   guardduty.New(sess),
	}, nil
}

func (p *Provider) Region() string { return p.region }

// classify maps SDK error codes onto the pipeline error taxonomy so the
// orchestrator can record and skip the group.
func classify(err error, op string) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "UnauthorizedAccess":
			return model.WrapPermissionDenied(err, op)
		case "InvalidAccessException", "SubscriptionRequiredException", "BadRequestException", "OptInRequired":
			// service not enabled or not provisioned in this region
			return model.WrapProviderUnavailable(err, op)
		}
	}
	return errors.Wrap(err, op)
}

func (p *Provider) SecurityGroups(ctx context.Context) ([]SecurityGroup, error) {
	out, err := p.ec2.DescribeSecurityGroupsWithContext(ctx, &ec2.DescribeSecurityGroupsInput{})
	if err != nil {
		return nil, classify(err, "describing security groups")
	}
	groups := make([]SecurityGroup, 0, len(out.SecurityGroups))
	for _, sg := range out.SecurityGroups {
		group := SecurityGroup{
			GroupID:   aws.StringValue(sg.GroupId),
			GroupName: aws.StringValue(sg.GroupName),
		}
		for _, perm := range sg.IpPermissions {
			rule := IngressRule{
				Protocol: aws.StringValue(perm.IpProtocol),
				FromPort: perm.FromPort,
				ToPort:   perm.ToPort,
			}
			for _, r := range perm.IpRanges {
				rule.SourceCIDRs = append(rule.SourceCIDRs, aws.StringValue(r.CidrIp))
			}
			group.Ingress = append(group.Ingress, rule)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (p *Provider) Buckets(ctx context.Context) ([]Bucket, error) {
	out, err := p.s3.ListBucketsWithContext(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, classify(err, "listing buckets")
	}
	buckets := make([]Bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		name := aws.StringValue(b.Name)
		bucket := Bucket{Name: name, Encrypted: true}

		_, err := p.s3.GetBucketEncryptionWithContext(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(name)})
		if err != nil {
			var aerr awserr.Error
			if errors.As(err, &aerr) && aerr.Code() == "ServerSideEncryptionConfigurationNotFoundError" {
				bucket.Encrypted = false
			} else {
				log.Warnf("could not read encryption config for bucket %s: %v", name, err)
			}
		}

		pab, err := p.s3.GetPublicAccessBlockWithContext(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(name)})
		if err != nil {
			var aerr awserr.Error
			if errors.As(err, &aerr) && aerr.Code() == "NoSuchPublicAccessBlockConfiguration" {
				bucket.PublicAccess = &PublicAccessBlock{}
			} else {
				log.Warnf("could not read public access block for bucket %s: %v", name, err)
			}
		} else if cfg := pab.PublicAccessBlockConfiguration; cfg != nil {
			bucket.PublicAccess = &PublicAccessBlock{
				BlockPublicACLs:       aws.BoolValue(cfg.BlockPublicAcls),
				IgnorePublicACLs:      aws.BoolValue(cfg.IgnorePublicAcls),
				BlockPublicPolicy:     aws.BoolValue(cfg.BlockPublicPolicy),
				RestrictPublicBuckets: aws.BoolValue(cfg.RestrictPublicBuckets),
			}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// policyDocument is the decoded IAM policy wire form. Action and Resource
// appear as either a scalar or a list.
type policyDocument struct {
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect   string       `json:"Effect"`
	Action   stringOrList `json:"Action"`
	Resource stringOrList `json:"Resource"`
}

type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (p *Provider) Policies(ctx context.Context) ([]Policy, error) {
	out, err := p.iam.ListPoliciesWithContext(ctx, &iam.ListPoliciesInput{Scope: aws.String(iam.PolicyScopeTypeLocal)})
	if err != nil {
		return nil, classify(err, "listing iam policies")
	}
	policies := make([]Policy, 0, len(out.Policies))
	for _, pol := range out.Policies {
		version, err := p.iam.GetPolicyVersionWithContext(ctx, &iam.GetPolicyVersionInput{
			PolicyArn: pol.Arn,
			VersionId: pol.DefaultVersionId,
		})
		if err != nil {
			log.Warnf("could not read policy version for %s: %v", aws.StringValue(pol.PolicyName), err)
			continue
		}
		raw, err := url.QueryUnescape(aws.StringValue(version.PolicyVersion.Document))
		if err != nil {
			log.Warnf("malformed policy document for %s: %v", aws.StringValue(pol.PolicyName), err)
			continue
		}
		var doc policyDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			// skip the single malformed policy, not the whole group
			log.Warnf("malformed policy document for %s: %v", aws.StringValue(pol.PolicyName), err)
			continue
		}
		policy := Policy{
			PolicyID:   aws.StringValue(pol.PolicyId),
			PolicyName: aws.StringValue(pol.PolicyName),
		}
		for _, stmt := range doc.Statement {
			policy.Statements = append(policy.Statements, PolicyStatement{
				Effect:    stmt.Effect,
				Actions:   stmt.Action,
				Resources: stmt.Resource,
			})
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

func (p *Provider) SecurityHubFindings(ctx context.Context) ([]HubFinding, error) {
	out, err := p.securityHub.GetFindingsWithContext(ctx, &securityhub.GetFindingsInput{
		Filters: &securityhub.AwsSecurityFindingFilters{
			SeverityLabel: []*securityhub.StringFilter{
				{Comparison: aws.String(securityhub.StringFilterComparisonEquals), Value: aws.String("HIGH")},
			},
		},
		MaxResults: aws.Int64(100),
	})
	if err != nil {
		return nil, classify(err, "fetching security hub findings")
	}
	findings := make([]HubFinding, 0, len(out.Findings))
	for _, f := range out.Findings {
		hub := HubFinding{
			Title:       aws.StringValue(f.Title),
			Description: aws.StringValue(f.Description),
			Region:      aws.StringValue(f.Region),
		}
		if len(f.Resources) > 0 {
			hub.ResourceID = aws.StringValue(f.Resources[0].Id)
			hub.ResourceType = aws.StringValue(f.Resources[0].Type)
		}
		if f.Severity != nil {
			hub.SeverityLabel = aws.StringValue(f.Severity.Label)
		}
		if f.Remediation != nil && f.Remediation.Recommendation != nil {
			hub.Remediation = aws.StringValue(f.Remediation.Recommendation.Text)
		}
		findings = append(findings, hub)
	}
	return findings, nil
}

func (p *Provider) GuardDutyFindings(ctx context.Context) ([]GuardDutyFinding, error) {
	detectors, err := p.guardDuty.ListDetectorsWithContext(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return nil, classify(err, "listing guardduty detectors")
	}
	if len(detectors.DetectorIds) == 0 {
		return nil, model.WrapProviderUnavailable(nil, "guardduty is not enabled in this region")
	}

	var findings []GuardDutyFinding
	for _, detectorID := range detectors.DetectorIds {
		list, err := p.guardDuty.ListFindingsWithContext(ctx, &guardduty.ListFindingsInput{
			DetectorId: detectorID,
			FindingCriteria: &guardduty.FindingCriteria{
				Criterion: map[string]*guardduty.Condition{
					"severity": {Gt: aws.Int64(4)},
				},
			},
			MaxResults: aws.Int64(50),
		})
		if err != nil {
			return nil, classify(err, "listing guardduty findings")
		}
		if len(list.FindingIds) == 0 {
			continue
		}
		got, err := p.guardDuty.GetFindingsWithContext(ctx, &guardduty.GetFindingsInput{
			DetectorId: detectorID,
			FindingIds: list.FindingIds,
		})
		if err != nil {
			return nil, classify(err, "fetching guardduty findings")
		}
		for _, f := range got.Findings {
			gd := GuardDutyFinding{
				Title:        aws.StringValue(f.Title),
				Description:  aws.StringValue(f.Description),
				Severity:     aws.Float64Value(f.Severity),
				ResourceID:   "Unknown",
				ResourceType: "Unknown",
			}
			if res := f.Resource; res != nil {
				gd.ResourceType = aws.StringValue(res.ResourceType)
				switch gd.ResourceType {
				case "Instance":
					if res.InstanceDetails != nil {
						gd.ResourceID = aws.StringValue(res.InstanceDetails.InstanceId)
					}
				case "AccessKey":
					if res.AccessKeyDetails != nil {
						gd.ResourceID = aws.StringValue(res.AccessKeyDetails.AccessKeyId)
					}
				case "S3Bucket":
					if len(res.S3BucketDetails) > 0 {
						gd.ResourceID = aws.StringValue(res.S3BucketDetails[0].Name)
					}
				}
			}
			findings = append(findings, gd)
		}
	}
	return findings, nil
}
