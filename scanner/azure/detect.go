// Package azure holds the Azure detector groups: network security groups,
// storage accounts, Security Center assessments and role assignments.
package azure

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/scanner"
	"github.com/cloudsecops/cloud-scanner/severity"
)

// Role assignments above this count produce a subscription-level finding.
const ownerAssignmentThreshold = 3

var criticalPorts = map[string]bool{"22": true, "3389": true, "1433": true, "3306": true, "5432": true, "*": true}

func newFinding(ruleID, title, description, resourceID, resourceType, region string, sev model.SeverityLevel, remediation string) model.Finding {
	return model.Finding{
		ID:               uuid.NewString(),
		RuleID:           ruleID,
		Title:            title,
		Description:      description,
		ResourceID:       resourceID,
		ResourceType:     resourceType,
		CloudProvider:    model.CloudProviderAzure,
		Region:           region,
		Severity:         sev,
		Status:           model.StatusOpen,
		RemediationSteps: remediation,
		DetectedAt:       time.Now().UTC(),
	}
}

// portRangeIsCritical reports whether a destination port expression exposes
// an administrative port: a single critical port, "*", or a low-high range
// containing SSH or RDP.
func portRangeIsCritical(portRange string) bool {
	if criticalPorts[portRange] {
		return true
	}
	if strings.Contains(portRange, "-") {
		parts := strings.SplitN(portRange, "-", 2)
		start, err1 := strconv.Atoi(parts[0])
		end, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return false
		}
		if (22 >= start && 22 <= end) || (3389 >= start && 3389 <= end) {
			return true
		}
	}
	return false
}

// CheckNetworkSecurityGroups flags inbound Allow rules whose source is "*"
// or "Internet". Rules reaching an administrative port are critical, any
// other open rule is high.
func CheckNetworkSecurityGroups(nsgs []NetworkSecurityGroup) []model.Finding {
	var findings []model.Finding
	for _, nsg := range nsgs {
		for _, rule := range nsg.Rules {
			if rule.Access != "Allow" || rule.Direction != "Inbound" {
				continue
			}
			if rule.SourceAddressPrefix != "*" && rule.SourceAddressPrefix != "Internet" {
				continue
			}
			sev := model.SeverityHigh
			if portRangeIsCritical(rule.DestinationPorts) {
				sev = model.SeverityCritical
			}
			findings = append(findings, newFinding(
				RuleOpenInbound,
				fmt.Sprintf("NSG %s has overly permissive inbound rule", nsg.Name),
				fmt.Sprintf("Network Security Group %s has an inbound rule %s that allows access from %s to port(s) %s",
					nsg.Name, rule.Name, rule.SourceAddressPrefix, rule.DestinationPorts),
				nsg.ID,
				"NetworkSecurityGroup",
				nsg.Location,
				sev,
				"Restrict the NSG rule to only necessary IP ranges. Avoid using '*' or 'Internet' especially for administrative ports.",
			))
		}
	}
	log.Infof("found %d NSG findings", len(findings))
	return findings
}

// CheckStorageAccounts flags public blob access and missing HTTPS
// enforcement as high. Encryption disabled for every service is high;
// encryption enabled for only some services is a distinct medium finding.
func CheckStorageAccounts(accounts []StorageAccount) []model.Finding {
	var findings []model.Finding
	for _, acct := range accounts {
		if acct.AllowBlobPublicAccess {
			findings = append(findings, newFinding(
				RuleStoragePublicBlob,
				fmt.Sprintf("Storage Account %s allows public blob access", acct.Name),
				fmt.Sprintf("Storage Account %s has public blob access enabled, which may expose data if containers are configured with public access.", acct.Name),
				acct.ID,
				"StorageAccount",
				acct.Location,
				model.SeverityHigh,
				"Disable public blob access for the storage account unless absolutely necessary.",
			))
		}
		if !acct.HTTPSOnly {
			findings = append(findings, newFinding(
				RuleStorageInsecureHTTP,
				fmt.Sprintf("Storage Account %s allows non-HTTPS traffic", acct.Name),
				fmt.Sprintf("Storage Account %s does not enforce secure transfer (HTTPS only), which may expose data in transit.", acct.Name),
				acct.ID,
				"StorageAccount",
				acct.Location,
				model.SeverityHigh,
				"Enable 'Secure transfer required' for the storage account.",
			))
		}
		switch {
		case !acct.BlobEncryption && !acct.FileEncryption:
			findings = append(findings, newFinding(
				RuleStorageUnencrypted,
				fmt.Sprintf("Storage Account %s is not encrypted", acct.Name),
				fmt.Sprintf("Storage Account %s does not have encryption enabled for any service.", acct.Name),
				acct.ID,
				"StorageAccount",
				acct.Location,
				model.SeverityHigh,
				"Enable encryption for all services in the storage account.",
			))
		case !acct.BlobEncryption || !acct.FileEncryption:
			findings = append(findings, newFinding(
				RuleStoragePartialEncrypt,
				fmt.Sprintf("Storage Account %s has incomplete encryption", acct.Name),
				fmt.Sprintf("Storage Account %s does not have encryption enabled for all services.", acct.Name),
				acct.ID,
				"StorageAccount",
				acct.Location,
				model.SeverityMedium,
				"Enable encryption for all services in the storage account.",
			))
		}
	}
	log.Infof("found %d storage account findings", len(findings))
	return findings
}

// IngestAssessments passes Security Center assessments through, skipping
// healthy ones and normalizing the severity label.
func IngestAssessments(assessments []Assessment) []model.Finding {
	var findings []model.Finding
	for _, a := range assessments {
		if a.StatusCode == "Healthy" {
			continue
		}
		description := a.Description
		if description == "" {
			description = "No description provided"
		}
		remediation := a.Remediation
		if remediation == "" {
			remediation = "See Azure Security Center for remediation steps."
		}
		location := a.Location
		if location == "" {
			location = "unknown"
		}
		findings = append(findings, newFinding(
			RuleSecurityCenterFinding,
			a.DisplayName,
			description,
			a.ResourceID,
			a.ResourceType,
			location,
			severity.SecurityCenterLabels.Normalize(a.Severity),
			remediation,
		))
	}
	log.Infof("ingested %d Security Center assessments", len(findings))
	return findings
}

// looksLikeServicePrincipal is a heuristic on identifier shape; resolving
// the principal type for real needs a Graph API call.
func looksLikeServicePrincipal(principalID string) bool {
	return len(principalID) == 36
}

// CheckRoleAssignments flags an excessive number of Owner assignments at
// subscription scope, plus every Owner assignment held by a machine
// identity.
func CheckRoleAssignments(subscriptionID string, defs []RoleDefinition, assignments []RoleAssignment) []model.Finding {
	ownerDefID := ""
	for _, def := range defs {
		if def.RoleName == "Owner" {
			ownerDefID = def.ID
			break
		}
	}
	if ownerDefID == "" {
		log.Warn("could not identify the Owner role definition")
		return nil
	}

	var owners []RoleAssignment
	for _, a := range assignments {
		if a.RoleDefinitionID == ownerDefID {
			owners = append(owners, a)
		}
	}

	var findings []model.Finding
	if len(owners) > ownerAssignmentThreshold {
		findings = append(findings, newFinding(
			RuleExcessiveOwners,
			"Excessive number of Owner role assignments",
			fmt.Sprintf("There are %d Owner role assignments in the subscription. Having too many owners increases the risk surface area.", len(owners)),
			"/subscriptions/"+subscriptionID,
			"Subscription",
			model.GlobalRegion,
			model.SeverityHigh,
			"Review Owner role assignments and reduce to minimum necessary. Consider using more granular RBAC roles instead.",
		))
	}

	for _, a := range owners {
		if !looksLikeServicePrincipal(a.PrincipalID) {
			continue
		}
		findings = append(findings, newFinding(
			RuleServicePrincipalOwner,
			"Service Principal with Owner role",
			fmt.Sprintf("A service principal (ID: %s) has Owner role, which grants full access to manage all resources.", a.PrincipalID),
			a.ID,
			"RoleAssignment",
			model.GlobalRegion,
			model.SeverityHigh,
			"Review if the service principal truly needs Owner permissions. Consider using a more restrictive role.",
		))
	}

	log.Infof("found %d role assignment findings", len(findings))
	return findings
}

// Groups wires the Azure detector set against one subscription.
func Groups(api ResourceAPI, subscriptionID string) []scanner.DetectorGroup {
	return []scanner.DetectorGroup{
		scanner.NewGroup("azure-network-security-groups", func(ctx context.Context) ([]model.Finding, error) {
			nsgs, err := api.NetworkSecurityGroups(ctx)
			if err != nil {
				return nil, err
			}
			return CheckNetworkSecurityGroups(nsgs), nil
		}),
		scanner.NewGroup("azure-storage-accounts", func(ctx context.Context) ([]model.Finding, error) {
			accounts, err := api.StorageAccounts(ctx)
			if err != nil {
				return nil, err
			}
			return CheckStorageAccounts(accounts), nil
		}),
		scanner.NewGroup("azure-security-center", func(ctx context.Context) ([]model.Finding, error) {
			assessments, err := api.Assessments(ctx)
			if err != nil {
				return nil, err
			}
			return IngestAssessments(assessments), nil
		}),
		scanner.NewGroup("azure-role-assignments", func(ctx context.Context) ([]model.Finding, error) {
			defs, err := api.RoleDefinitions(ctx)
			if err != nil {
				return nil, err
			}
			assignments, err := api.RoleAssignments(ctx)
			if err != nil {
				return nil, err
			}
			return CheckRoleAssignments(subscriptionID, defs, assignments), nil
		}),
	}
}
