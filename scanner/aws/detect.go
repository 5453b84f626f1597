// Package aws holds the AWS detector groups: security groups, S3 buckets,
// IAM policies, plus ingestion of Security Hub and GuardDuty findings.
package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/scanner"
	"github.com/cloudsecops/cloud-scanner/severity"
)

// adminPorts escalate an open ingress rule to critical.
var adminPorts = map[int64]bool{22: true, 3389: true, 1433: true, 3306: true, 5432: true}

const openCIDR = "0.0.0.0/0"

func newFinding(ruleID, title, description, resourceID, resourceType, region string, sev model.SeverityLevel, remediation string) model.Finding {
	return model.Finding{
		ID:               uuid.NewString(),
		RuleID:           ruleID,
		Title:            title,
		Description:      description,
		ResourceID:       resourceID,
		ResourceType:     resourceType,
		CloudProvider:    model.CloudProviderAWS,
		Region:           region,
		Severity:         sev,
		Status:           model.StatusOpen,
		RemediationSteps: remediation,
		DetectedAt:       time.Now().UTC(),
	}
}

func portLabel(p *int64) string {
	if p == nil {
		return "Any"
	}
	return strconv.FormatInt(*p, 10)
}

// CheckSecurityGroups flags every ingress rule open to 0.0.0.0/0. A rule
// whose FromPort is an administrative port is critical, any other open rule
// is medium. A rule without a port range is treated as all ports.
func CheckSecurityGroups(region string, groups []SecurityGroup) []model.Finding {
	var findings []model.Finding
	for _, sg := range groups {
		for _, rule := range sg.Ingress {
			for _, cidr := range rule.SourceCIDRs {
				if cidr != openCIDR {
					continue
				}
				sev := model.SeverityMedium
				if rule.FromPort != nil && adminPorts[*rule.FromPort] {
					sev = model.SeverityCritical
				}
				protocol := rule.Protocol
				if protocol == "" || protocol == "-1" {
					protocol = "All"
				}
				portRange := portLabel(rule.FromPort) + "-" + portLabel(rule.ToPort)
				findings = append(findings, newFinding(
					RuleOpenIngress,
					fmt.Sprintf("Security Group %s has overly permissive ingress rule", sg.GroupName),
					fmt.Sprintf("Security Group %s (%s) allows unrestricted access (%s) for ports %s using protocol %s.",
						sg.GroupID, sg.GroupName, openCIDR, portRange, protocol),
					sg.GroupID,
					"SecurityGroup",
					region,
					sev,
					"Restrict the security group rule to only necessary IP ranges. Avoid using 0.0.0.0/0 especially for administrative ports.",
				))
			}
		}
	}
	log.Infof("found %d security group findings", len(findings))
	return findings
}

// CheckBuckets flags buckets without default encryption and buckets whose
// public access block is not fully enabled. The two conditions are distinct
// findings.
func CheckBuckets(region string, buckets []Bucket) []model.Finding {
	var findings []model.Finding
	for _, b := range buckets {
		if !b.Encrypted {
			findings = append(findings, newFinding(
				RuleBucketUnencrypted,
				fmt.Sprintf("S3 Bucket %s is not encrypted", b.Name),
				fmt.Sprintf("S3 Bucket %s does not have default encryption enabled.", b.Name),
				b.Name,
				"S3Bucket",
				region,
				model.SeverityHigh,
				"Enable default encryption on the S3 bucket using either SSE-S3 or SSE-KMS.",
			))
		}
		if b.PublicAccess != nil && !b.PublicAccess.FullyEnabled() {
			findings = append(findings, newFinding(
				RuleBucketPublicAccess,
				fmt.Sprintf("S3 Bucket %s has public access enabled", b.Name),
				fmt.Sprintf("S3 Bucket %s does not have all public access block settings enabled.", b.Name),
				b.Name,
				"S3Bucket",
				region,
				model.SeverityHigh,
				"Enable all public access block settings for the S3 bucket.",
			))
		}
	}
	log.Infof("found %d S3 bucket findings", len(findings))
	return findings
}

func containsWildcard(values []string) bool {
	for _, v := range values {
		if v == "*" {
			return true
		}
	}
	return false
}

// CheckPolicies emits exactly one critical finding per statement with
// Effect=Allow, a wildcard action and a wildcard resource. IAM is
// account-scoped so the region is global.
func CheckPolicies(policies []Policy) []model.Finding {
	var findings []model.Finding
	for _, p := range policies {
		for _, stmt := range p.Statements {
			if stmt.Effect != "Allow" {
				continue
			}
			if !containsWildcard(stmt.Actions) || !containsWildcard(stmt.Resources) {
				continue
			}
			findings = append(findings, newFinding(
				RuleWildcardPolicy,
				fmt.Sprintf("IAM Policy %s has overly permissive permissions", p.PolicyName),
				fmt.Sprintf("IAM Policy %s (%s) allows all actions (*) on all resources (*).", p.PolicyName, p.PolicyID),
				p.PolicyID,
				"IAMPolicy",
				model.GlobalRegion,
				model.SeverityCritical,
				"Revise the IAM policy to follow the principle of least privilege. Specify only the actions and resources that are necessary.",
			))
		}
	}
	log.Infof("found %d IAM policy findings", len(findings))
	return findings
}

// IngestSecurityHub passes Security Hub findings through unmodified except
// for severity normalization.
func IngestSecurityHub(region string, hub []HubFinding) []model.Finding {
	var findings []model.Finding
	for _, h := range hub {
		findingRegion := h.Region
		if findingRegion == "" {
			findingRegion = region
		}
		remediation := h.Remediation
		if remediation == "" {
			remediation = "See AWS Security Hub for remediation steps."
		}
		findings = append(findings, newFinding(
			RuleSecurityHubFinding,
			h.Title,
			h.Description,
			h.ResourceID,
			h.ResourceType,
			findingRegion,
			severity.SecurityHubLabels.Normalize(h.SeverityLabel),
			remediation,
		))
	}
	log.Infof("ingested %d Security Hub findings", len(findings))
	return findings
}

// IngestGuardDuty passes GuardDuty findings through, mapping the numeric
// severity score and carrying it as the cvss score.
func IngestGuardDuty(region string, gd []GuardDutyFinding) []model.Finding {
	var findings []model.Finding
	for _, g := range gd {
		f := newFinding(
			RuleGuardDutyFinding,
			g.Title,
			g.Description,
			g.ResourceID,
			g.ResourceType,
			region,
			severity.FromScore(g.Severity),
			"Review the GuardDuty finding details and follow AWS recommended steps.",
		)
		f.CvssScore = g.Severity
		findings = append(findings, f)
	}
	log.Infof("ingested %d GuardDuty findings", len(findings))
	return findings
}

// Groups wires the AWS detector set against one account session.
func Groups(api ResourceAPI, region string) []scanner.DetectorGroup {
	return []scanner.DetectorGroup{
		scanner.NewGroup("aws-security-groups", func(ctx context.Context) ([]model.Finding, error) {
			sgs, err := api.SecurityGroups(ctx)
			if err != nil {
				return nil, err
			}
			return CheckSecurityGroups(region, sgs), nil
		}),
		scanner.NewGroup("aws-s3-buckets", func(ctx context.Context) ([]model.Finding, error) {
			buckets, err := api.Buckets(ctx)
			if err != nil {
				return nil, err
			}
			return CheckBuckets(region, buckets), nil
		}),
		scanner.NewGroup("aws-iam-policies", func(ctx context.Context) ([]model.Finding, error) {
			policies, err := api.Policies(ctx)
			if err != nil {
				return nil, err
			}
			return CheckPolicies(policies), nil
		}),
		scanner.NewGroup("aws-security-hub", func(ctx context.Context) ([]model.Finding, error) {
			hub, err := api.SecurityHubFindings(ctx)
			if err != nil {
				return nil, err
			}
			return IngestSecurityHub(region, hub), nil
		}),
		scanner.NewGroup("aws-guardduty", func(ctx context.Context) ([]model.Finding, error) {
			gd, err := api.GuardDutyFindings(ctx)
			if err != nil {
				return nil, err
			}
			return IngestGuardDuty(region, gd), nil
		}),
	}
}
