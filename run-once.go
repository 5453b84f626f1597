package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/compliance"
	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/output"
	"github.com/cloudsecops/cloud-scanner/scanner"
	"github.com/cloudsecops/cloud-scanner/scanner/aws"
	"github.com/cloudsecops/cloud-scanner/scanner/azure"
	"github.com/cloudsecops/cloud-scanner/utils"
)

func buildGroups(config utils.Config) ([]scanner.DetectorGroup, error) {
	var groups []scanner.DetectorGroup

	if config.Provider == utils.ProviderAWS || config.Provider == utils.ProviderAll {
		p, err := aws.NewProvider(config.AWSAccessKeyID, config.AWSSecretAccessKey, config.AWSRegion)
		if err != nil {
			return nil, err
		}
		groups = append(groups, aws.Groups(p, config.AWSRegion)...)
	}
	if config.Provider == utils.ProviderAzure || config.Provider == utils.ProviderAll {
		p, err := azure.NewProvider(config.AzureSubscriptionID, config.AzureTenantID, config.AzureClientID, config.AzureClientSecret)
		if err != nil {
			return nil, err
		}
		groups = append(groups, azure.Groups(p, config.AzureSubscriptionID)...)
	}
	return groups, nil
}

func scanTimeoutDuration(config utils.Config) time.Duration {
	if config.ScanTimeoutSeconds > 0 {
		return time.Duration(config.ScanTimeoutSeconds) * time.Second
	}
	return 10 * time.Minute
}

func RunOnce(config utils.Config, scanID string) {
	if config.Provider != utils.ProviderAWS && config.Provider != utils.ProviderAzure && config.Provider != utils.ProviderAll {
		log.Fatalf("error: provider should be %s, %s or %s", utils.ProviderAWS, utils.ProviderAzure, utils.ProviderAll)
	}
	if config.FailOnScore > 10.0 {
		log.Fatal("error: fail-on-score should be between -1 and 10")
	}
	if config.Output != utils.TableOutput && config.Output != utils.JsonOutput {
		log.Fatalf("error: output should be %s or %s", utils.JsonOutput, utils.TableOutput)
	}
	if scanID == "" {
		scanID = fmt.Sprintf("%s_%d", config.HostName, utils.GetIntTimestamp())
	}

	groups, err := buildGroups(config)
	if err != nil {
		log.Fatalf("error connecting to cloud provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeoutDuration(config))
	defer cancel()

	orch := scanner.NewOrchestrator(config.ScanConcurrency)
	defer orch.Close()

	log.Infof("scanning %s resources ...", config.Provider)
	result := orch.Scan(ctx, scanID, groups)

	mapping := loadMapping(config.ComplianceMapPath)
	derived := compliance.Derive(result.Findings, mapping)

	if config.DatabaseURL != "" {
		st := openStore(config.DatabaseURL)
		defer st.Close()
		if err := st.StoreFindings(ctx, result.Findings); err != nil {
			log.Errorf("error persisting findings: %v", err)
		} else if err := st.StoreComplianceFindings(ctx, derived); err != nil {
			log.Errorf("error persisting compliance findings: %v", err)
		}
	}

	output.SortFindings(result.Findings)
	detail := output.Summarize(result, config.Provider)

	if !config.Quiet {
		if config.Output == utils.JsonOutput {
			if err := output.JSONOutput(os.Stdout, result); err != nil {
				log.Fatalf("error converting result to json: %v", err)
			}
		} else {
			fmt.Printf("summary:\n total=%d %s=%d %s=%d %s=%d %s=%d\n",
				detail.Total,
				model.SeverityCritical, detail.Severity.Critical,
				model.SeverityHigh, detail.Severity.High,
				model.SeverityMedium, detail.Severity.Medium,
				model.SeverityLow, detail.Severity.Low)
			output.TableOutput(result.Findings)
		}
	}

	for name, msg := range result.GroupErrors {
		log.Warnf("detector group %s failed: %s", name, msg)
	}
	output.FailOn(&config, detail)
}
