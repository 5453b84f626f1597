package utils

type Config struct {
	Mode                string  `json:"mode,omitempty"`
	Port                string  `json:"port,omitempty"`
	Output              string  `json:"output,omitempty"`
	Quiet               bool    `json:"quiet,omitempty"`
	Provider            string  `json:"provider,omitempty"`
	AWSAccessKeyID      string  `json:"-"`
	AWSSecretAccessKey  string  `json:"-"`
	AWSRegion           string  `json:"aws_region,omitempty"`
	AzureTenantID       string  `json:"azure_tenant_id,omitempty"`
	AzureClientID       string  `json:"azure_client_id,omitempty"`
	AzureClientSecret   string  `json:"-"`
	AzureSubscriptionID string  `json:"azure_subscription_id,omitempty"`
	DatabaseURL         string  `json:"database_url,omitempty"`
	ComplianceMapPath   string  `json:"compliance_map_path,omitempty"`
	ScanConcurrency     int     `json:"scan_concurrency,omitempty"`
	ScanTimeoutSeconds  int     `json:"scan_timeout_seconds,omitempty"`
	HostName            string  `json:"host_name,omitempty"`
	FailOnCount         int     `json:"fail_on_count,omitempty"`
	FailOnCriticalCount int     `json:"fail_on_critical_count,omitempty"`
	FailOnHighCount     int     `json:"fail_on_high_count,omitempty"`
	FailOnMediumCount   int     `json:"fail_on_medium_count,omitempty"`
	FailOnLowCount      int     `json:"fail_on_low_count,omitempty"`
	FailOnScore         float64 `json:"fail_on_score,omitempty"`
}

const (
	ModeLocal      = "local"
	ModeHttpServer = "http-server"
	JsonOutput     = "json"
	TableOutput    = "table"

	ProviderAWS   = "aws"
	ProviderAzure = "azure"
	ProviderAll   = "all"
)
