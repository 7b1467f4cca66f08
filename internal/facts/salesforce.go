package facts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-goals/pkg/salesforce"
)

// SalesforceSource answers the aggregate fact questions with SOQL, for
// deployments where deal and activity facts live in Salesforce rather than
// the local store. Won deals map to closed-won Opportunities; activities and
// tasks map to completed Task records.
type SalesforceSource struct {
	client salesforce.Client
}

// NewSalesforce creates a fact source backed by the given Salesforce client.
func NewSalesforce(client salesforce.Client) *SalesforceSource {
	return &SalesforceSource{client: client}
}

type sumRecord struct {
	Total float64 `json:"total"`
}

type countRecord struct {
	Total int `json:"total"`
}

func soqlDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// soqlString escapes a value for interpolation into a SOQL literal.
func soqlString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func ownerFilter(field, ownerID string) string {
	if ownerID == "" {
		return ""
	}
	return fmt.Sprintf(" AND %s = %s", field, soqlString(ownerID))
}

func (s *SalesforceSource) SumWonDealAmounts(ctx context.Context, scope Scope) (float64, error) {
	soql := fmt.Sprintf(
		`SELECT SUM(Amount) total FROM Opportunity
		 WHERE StageName = 'Closed Won' AND CloseDate >= %s AND CloseDate <= %s%s`,
		soqlDate(scope.Start), soqlDate(scope.End), ownerFilter("OwnerId", scope.OwnerID))

	var records []sumRecord
	if err := s.client.Query(ctx, soql, &records); err != nil {
		return 0, eris.Wrap(err, "facts: sum won opportunity amounts")
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Total, nil
}

func (s *SalesforceSource) CountWonDeals(ctx context.Context, scope Scope) (int, error) {
	soql := fmt.Sprintf(
		`SELECT COUNT(Id) total FROM Opportunity
		 WHERE StageName = 'Closed Won' AND CloseDate >= %s AND CloseDate <= %s%s`,
		soqlDate(scope.Start), soqlDate(scope.End), ownerFilter("OwnerId", scope.OwnerID))

	var records []countRecord
	if err := s.client.Query(ctx, soql, &records); err != nil {
		return 0, eris.Wrap(err, "facts: count won opportunities")
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Total, nil
}

func (s *SalesforceSource) CountCompletedActivities(ctx context.Context, scope Scope) (int, error) {
	soql := fmt.Sprintf(
		`SELECT COUNT(Id) total FROM Task
		 WHERE Status = 'Completed' AND ActivityDate >= %s AND ActivityDate <= %s%s`,
		soqlDate(scope.Start), soqlDate(scope.End), ownerFilter("OwnerId", scope.OwnerID))

	var records []countRecord
	if err := s.client.Query(ctx, soql, &records); err != nil {
		return 0, eris.Wrap(err, "facts: count completed activities")
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Total, nil
}

func (s *SalesforceSource) CountCompletedTasks(ctx context.Context, scope Scope) (int, error) {
	soql := fmt.Sprintf(
		`SELECT COUNT(Id) total FROM Task
		 WHERE TaskSubtype = 'Task' AND Status = 'Completed' AND ActivityDate >= %s AND ActivityDate <= %s%s`,
		soqlDate(scope.Start), soqlDate(scope.End), ownerFilter("OwnerId", scope.OwnerID))

	var records []countRecord
	if err := s.client.Query(ctx, soql, &records); err != nil {
		return 0, eris.Wrap(err, "facts: count completed tasks")
	}
	if len(records) == 0 {
		return 0, nil
	}
	return records[0].Total, nil
}
