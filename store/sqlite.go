package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cloudsecops/cloud-scanner/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS vulnerabilities (
	id TEXT PRIMARY KEY,
	rule_id TEXT,
	title TEXT NOT NULL,
	description TEXT,
	resource_id TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	cloud_provider TEXT NOT NULL,
	region TEXT,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	remediation_steps TEXT,
	cvss_score REAL,
	detected_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vulnerabilities_provider ON vulnerabilities(cloud_provider);
CREATE INDEX IF NOT EXISTS idx_vulnerabilities_severity ON vulnerabilities(severity);
CREATE TABLE IF NOT EXISTS compliance_findings (
	id TEXT PRIMARY KEY,
	vulnerability_id TEXT NOT NULL,
	standard TEXT NOT NULL,
	control_id TEXT NOT NULL,
	description TEXT,
	is_compliant INTEGER NOT NULL,
	evidence TEXT,
	cloud_provider TEXT
);
CREATE INDEX IF NOT EXISTS idx_compliance_standard ON compliance_findings(standard);
`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	pool *sqlitex.Pool
}

// NewSQLiteStore opens (and if needed creates) the database at dsn, e.g.
// "file:cloudsecops.db".
func NewSQLiteStore(dsn string, poolSize int) (*SQLiteStore, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(dsn, sqlitex.PoolOptions{PoolSize: poolSize})
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	s := &SQLiteStore{pool: pool}
	if err := s.init(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	log.Infof("sqlite store ready at %s", dsn)
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return errors.Wrap(err, "creating tables")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) StoreFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	for _, f := range findings {
		err := sqlitex.ExecuteTransient(conn, `
			INSERT INTO vulnerabilities
				(id, rule_id, title, description, resource_id, resource_type,
				 cloud_provider, region, severity, status, remediation_steps,
				 cvss_score, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				f.ID, f.RuleID, f.Title, f.Description, f.ResourceID, f.ResourceType,
				string(f.CloudProvider), f.Region, string(f.Severity), string(f.Status),
				f.RemediationSteps, f.CvssScore, f.DetectedAt.UTC().Format(time.RFC3339Nano),
			}})
		if err != nil {
			return errors.Wrapf(err, "storing finding %s", f.ID)
		}
	}
	log.Debugf("stored %d findings", len(findings))
	return nil
}

// severityOrder sorts critical first inside SQL, matching the display
// ordering contract of the query layer.
const severityOrder = `CASE severity
	WHEN 'critical' THEN 5
	WHEN 'high' THEN 4
	WHEN 'medium' THEN 3
	WHEN 'low' THEN 2
	WHEN 'info' THEN 1
	ELSE 0 END DESC, detected_at DESC`

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]model.Finding, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	var where []string
	var args []any
	if filter.Provider != "" {
		where = append(where, "cloud_provider = ?")
		args = append(args, string(filter.Provider))
	}
	if len(filter.Severities) > 0 {
		where = append(where, fmt.Sprintf("severity IN (%s)", placeholders(len(filter.Severities))))
		for _, sev := range filter.Severities {
			args = append(args, string(sev))
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status IN (%s)", placeholders(len(filter.Statuses))))
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.ResourceType != "" {
		where = append(where, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if filter.Region != "" {
		where = append(where, "region = ?")
		args = append(args, filter.Region)
	}

	query := "SELECT id, rule_id, title, description, resource_id, resource_type, cloud_provider, region, severity, status, remediation_steps, cvss_score, detected_at FROM vulnerabilities"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + severityOrder + " LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	var findings []model.Finding
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			detectedAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(12))
			if err != nil {
				return err
			}
			findings = append(findings, model.Finding{
				ID:               stmt.ColumnText(0),
				RuleID:           stmt.ColumnText(1),
				Title:            stmt.ColumnText(2),
				Description:      stmt.ColumnText(3),
				ResourceID:       stmt.ColumnText(4),
				ResourceType:     stmt.ColumnText(5),
				CloudProvider:    model.CloudProvider(stmt.ColumnText(6)),
				Region:           stmt.ColumnText(7),
				Severity:         model.SeverityLevel(stmt.ColumnText(8)),
				Status:           model.VulnerabilityStatus(stmt.ColumnText(9)),
				RemediationSteps: stmt.ColumnText(10),
				CvssScore:        stmt.ColumnFloat(11),
				DetectedAt:       detectedAt,
			})
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying findings")
	}
	return findings, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.VulnerabilityStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	err = sqlitex.ExecuteTransient(conn, "UPDATE vulnerabilities SET status = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), id}})
	if err != nil {
		return errors.Wrap(err, "updating status")
	}
	if conn.Changes() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("vulnerability %s not found", id))
	}
	return nil
}

func (s *SQLiteStore) StoreComplianceFindings(ctx context.Context, findings []model.ComplianceFinding) error {
	if len(findings) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	for _, cf := range findings {
		compliant := 0
		if cf.IsCompliant {
			compliant = 1
		}
		err := sqlitex.ExecuteTransient(conn, `
			INSERT INTO compliance_findings
				(id, vulnerability_id, standard, control_id, description, is_compliant, evidence, cloud_provider)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				cf.ID, cf.VulnerabilityID, cf.Standard, cf.ControlID, cf.Description,
				compliant, cf.Evidence, string(cf.CloudProvider),
			}})
		if err != nil {
			return errors.Wrapf(err, "storing compliance finding %s", cf.ID)
		}
	}
	log.Debugf("stored %d compliance findings", len(findings))
	return nil
}

func (s *SQLiteStore) QueryCompliance(ctx context.Context, filter ComplianceFilter) ([]model.ComplianceFinding, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	var where []string
	var args []any
	if filter.Standard != "" {
		where = append(where, "standard = ?")
		args = append(args, filter.Standard)
	}
	if filter.Provider != "" {
		where = append(where, "cloud_provider = ?")
		args = append(args, string(filter.Provider))
	}
	if filter.IsCompliant != nil {
		compliant := 0
		if *filter.IsCompliant {
			compliant = 1
		}
		where = append(where, "is_compliant = ?")
		args = append(args, compliant)
	}

	query := "SELECT id, vulnerability_id, standard, control_id, description, is_compliant, evidence, cloud_provider FROM compliance_findings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY standard, control_id LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	var findings []model.ComplianceFinding
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			findings = append(findings, model.ComplianceFinding{
				ID:              stmt.ColumnText(0),
				VulnerabilityID: stmt.ColumnText(1),
				Standard:        stmt.ColumnText(2),
				ControlID:       stmt.ColumnText(3),
				Description:     stmt.ColumnText(4),
				IsCompliant:     stmt.ColumnInt64(5) != 0,
				Evidence:        stmt.ColumnText(6),
				CloudProvider:   model.CloudProvider(stmt.ColumnText(7)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying compliance findings")
	}
	return findings, nil
}

func (s *SQLiteStore) Statistics(ctx context.Context, provider model.CloudProvider) (*Statistics, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "taking connection")
	}
	defer s.pool.Put(conn)

	stats := &Statistics{
		BySeverity:     make(map[model.SeverityLevel]int),
		ByStatus:       make(map[model.VulnerabilityStatus]int),
		ByProvider:     make(map[model.CloudProvider]int),
		ByResourceType: make(map[string]int),
	}

	where := ""
	var args []any
	if provider != "" {
		where = " WHERE cloud_provider = ?"
		args = []any{string(provider)}
	}

	count := func(column string, record func(key string, n int)) error {
		query := fmt.Sprintf("SELECT %s, COUNT(*) FROM vulnerabilities%s GROUP BY %s", column, where, column)
		return sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record(stmt.ColumnText(0), int(stmt.ColumnInt64(1)))
				return nil
			},
		})
	}

	if err := count("severity", func(k string, n int) {
		stats.BySeverity[model.SeverityLevel(k)] = n
		stats.Total += n
	}); err != nil {
		return nil, errors.Wrap(err, "counting by severity")
	}
	if err := count("status", func(k string, n int) {
		stats.ByStatus[model.VulnerabilityStatus(k)] = n
	}); err != nil {
		return nil, errors.Wrap(err, "counting by status")
	}
	if err := count("cloud_provider", func(k string, n int) {
		stats.ByProvider[model.CloudProvider(k)] = n
	}); err != nil {
		return nil, errors.Wrap(err, "counting by provider")
	}
	if err := count("resource_type", func(k string, n int) {
		stats.ByResourceType[k] = n
	}); err != nil {
		return nil, errors.Wrap(err, "counting by resource type")
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339Nano)
	recentQuery := "SELECT COUNT(*) FROM vulnerabilities WHERE detected_at >= ?"
	recentArgs := []any{cutoff}
	if provider != "" {
		recentQuery += " AND cloud_provider = ?"
		recentArgs = append(recentArgs, string(provider))
	}
	err = sqlitex.ExecuteTransient(conn, recentQuery, &sqlitex.ExecOptions{
		Args: recentArgs,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Recent24h = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "counting recent findings")
	}
	return stats, nil
}
