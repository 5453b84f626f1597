package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/compliance"
	"github.com/cloudsecops/cloud-scanner/server"
	"github.com/cloudsecops/cloud-scanner/store"
	"github.com/cloudsecops/cloud-scanner/utils"
)

var (
	mode                = flag.String("mode", utils.ModeLocal, utils.ModeLocal+" or "+utils.ModeHttpServer)
	port                = flag.String("port", "", "Port for http server")
	outputFormat        = flag.String("output", utils.TableOutput, "Output format: json or table")
	quiet               = flag.Bool("quiet", false, "Don't display any output in stdout")
	provider            = flag.String("provider", utils.ProviderAWS, "Cloud provider to scan: aws, azure or all")
	awsRegion           = flag.String("aws-region", "", "AWS region to scan (Default: AWS_REGION env or us-east-1)")
	azureSubscriptionID = flag.String("azure-subscription-id", "", "Azure subscription to scan (Default: AZURE_SUBSCRIPTION_ID env)")
	databaseURL         = flag.String("db", "", "SQLite database path; empty keeps findings in memory only")
	complianceMapPath   = flag.String("compliance-map", "", "Path to a yaml rule-to-control mapping (Default: built-in mapping)")
	scanConcurrency     = flag.Int("scan-concurrency", 0, "Number of detector groups scanned in parallel (Default: 5)")
	scanTimeout         = flag.Int("scan-timeout", 0, "Scan timeout in seconds (Default: 600)")
	scanID              = flag.String("scan-id", "", "(Optional) Scan id")
	failOnCount         = flag.Int("fail-on-count", -1, "Exit with status 1 if number of findings is >= this value (Default: -1)")
	failOnCriticalCount = flag.Int("fail-on-critical-count", -1, "Exit with status 1 if number of critical findings is >= this value (Default: -1)")
	failOnHighCount     = flag.Int("fail-on-high-count", -1, "Exit with status 1 if number of high findings is >= this value (Default: -1)")
	failOnMediumCount   = flag.Int("fail-on-medium-count", -1, "Exit with status 1 if number of medium findings is >= this value (Default: -1)")
	failOnLowCount      = flag.Int("fail-on-low-count", -1, "Exit with status 1 if number of low findings is >= this value (Default: -1)")
	failOnScore         = flag.Float64("fail-on-score", -1, "Exit with status 1 if the highest CVSS score is >= this value (Default: -1)")
)

func loadMapping(path string) *compliance.Mapping {
	if path == "" {
		return compliance.DefaultMapping()
	}
	mapping, err := compliance.LoadMapping(path)
	if err != nil {
		log.Fatalf("error loading compliance mapping: %v", err)
	}
	return mapping
}

func openStore(databaseURL string) store.Store {
	if databaseURL == "" {
		return store.NewMemoryStore()
	}
	st, err := store.NewSQLiteStore(databaseURL, 4)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}
	return st
}

func main() {
	flag.Parse()
	customFormatter := new(log.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	log.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true

	utils.LoadDotEnv()

	config := utils.Config{
		Mode:                *mode,
		Port:                *port,
		Output:              *outputFormat,
		Quiet:               *quiet,
		Provider:            *provider,
		AWSAccessKeyID:      utils.GetEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  utils.GetEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSRegion:           *awsRegion,
		AzureTenantID:       utils.GetEnv("AZURE_TENANT_ID", ""),
		AzureClientID:       utils.GetEnv("AZURE_CLIENT_ID", ""),
		AzureClientSecret:   utils.GetEnv("AZURE_CLIENT_SECRET", ""),
		AzureSubscriptionID: *azureSubscriptionID,
		DatabaseURL:         *databaseURL,
		ComplianceMapPath:   *complianceMapPath,
		ScanConcurrency:     *scanConcurrency,
		ScanTimeoutSeconds:  *scanTimeout,
		HostName:            utils.GetHostname(),
		FailOnCount:         *failOnCount,
		FailOnCriticalCount: *failOnCriticalCount,
		FailOnHighCount:     *failOnHighCount,
		FailOnMediumCount:   *failOnMediumCount,
		FailOnLowCount:      *failOnLowCount,
		FailOnScore:         *failOnScore,
	}
	if config.AWSRegion == "" {
		config.AWSRegion = utils.GetEnv("AWS_REGION", "us-east-1")
	}
	if config.AzureSubscriptionID == "" {
		config.AzureSubscriptionID = utils.GetEnv("AZURE_SUBSCRIPTION_ID", "")
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = utils.GetEnv("DATABASE_URL", "")
	}
	// server mode always persists; local runs stay in memory unless asked
	if config.DatabaseURL == "" && *mode == utils.ModeHttpServer {
		config.DatabaseURL = "cloudsecops.db"
	}

	if *mode == utils.ModeLocal {
		RunOnce(config, *scanID)
	} else if *mode == utils.ModeHttpServer {
		st := openStore(config.DatabaseURL)
		defer st.Close()
		err := server.RunHTTPServer(config, st, loadMapping(config.ComplianceMapPath))
		if err != nil {
			log.Errorf("Error running http server: %v", err)
			return
		}
	} else {
		log.Errorf("invalid mode")
		return
	}
}
