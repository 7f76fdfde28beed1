package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/config"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/adapters/metrics"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
)

// defaultEscalation is used when no ladder is configured. The rungs are
// deployment heuristics, which is exactly why they are swappable via
// search.escalation_filters; the final empty rung is the unfiltered fallback.
var defaultEscalation = []domain.FilterStrategy{
	{Name: "open-assigned", Where: `status in ["APPR","INPRG","WMATL"]`},
	{Name: "open-any", Where: `status in ["WAPPR","APPR","INPRG","WMATL","WSCH"]`},
	{Name: "not-historic", Where: `historyflag=0`},
	{Name: "unfiltered", Where: ""},
}

// WorkOrderQueryEngine builds remote filter expressions, escalates across an
// ordered strategy list until one yields records, retries exactly once after
// a forced refresh when the session is lost mid-flight, and paginates on a
// stable sort so page boundaries stay deterministic.
type WorkOrderQueryEngine struct {
	logger      domain.Logger
	cfgProvider config.Provider
	sessions    *CredentialSessionManager
	gateway     domain.SearchGateway
}

func NewWorkOrderQueryEngine(cfgProvider config.Provider, logger domain.Logger, sessions *CredentialSessionManager, gateway domain.SearchGateway) *WorkOrderQueryEngine {
	if logger == nil {
		panic("logger cannot be nil in NewWorkOrderQueryEngine")
	}
	if sessions == nil {
		panic("session manager cannot be nil in NewWorkOrderQueryEngine")
	}
	if gateway == nil {
		panic("search gateway cannot be nil in NewWorkOrderQueryEngine")
	}
	return &WorkOrderQueryEngine{
		logger:      logger,
		cfgProvider: cfgProvider,
		sessions:    sessions,
		gateway:     gateway,
	}
}

// Search runs one work-order query. Entirely empty criteria produce an empty
// page with no remote call at all (lazy-loading); DefaultListing walks the
// escalation ladder; explicit criteria run a single filtered query.
func (e *WorkOrderQueryEngine) Search(ctx context.Context, criteria domain.SearchCriteria, page, pageSize int) (*domain.WorkOrderPage, error) {
	searchCfg := e.cfgProvider.Get().Search
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = searchCfg.DefaultPageSize
	}
	if searchCfg.MaxPageSize > 0 && pageSize > searchCfg.MaxPageSize {
		pageSize = searchCfg.MaxPageSize
	}

	pagination := domain.PaginationState{Page: page, PageSize: pageSize, HasPrev: page > 1}

	if criteria.IsEmpty() {
		e.logger.Debug(ctx, "Empty work-order criteria, returning lazily without a remote call")
		return &domain.WorkOrderPage{Records: []domain.DomainRecord{}, Pagination: pagination}, nil
	}

	if !e.sessions.IsAuthenticated(ctx, false) {
		return nil, domain.ErrNotAuthenticated
	}

	if criteria.DefaultListing {
		return e.searchEscalating(ctx, criteria, pagination)
	}

	where := BuildFilter(criteria)
	rows, authFailure, err := e.callWithAuthRetry(ctx, where, pagination)
	if err != nil {
		return nil, err
	}
	if authFailure != "" {
		return &domain.WorkOrderPage{Records: []domain.DomainRecord{}, Pagination: pagination, AuthFailure: authFailure}, nil
	}
	return e.buildPage(rows, "", pagination), nil
}

// searchEscalating walks the configured ladder in order and stops at the
// first rung that yields any records. Rungs are never merged; when every rung
// comes back empty the result is empty.
func (e *WorkOrderQueryEngine) searchEscalating(ctx context.Context, criteria domain.SearchCriteria, pagination domain.PaginationState) (*domain.WorkOrderPage, error) {
	for _, strategy := range e.strategies() {
		metrics.IncrementEscalationStep(strategy.Name)

		where := combineAnd(siteClause(criteria.Site), strategy.Where)
		rows, authFailure, err := e.callWithAuthRetry(ctx, where, pagination)
		if err != nil {
			return nil, err
		}
		if authFailure != "" {
			return &domain.WorkOrderPage{Records: []domain.DomainRecord{}, Pagination: pagination, AuthFailure: authFailure}, nil
		}
		if len(rows) > 0 {
			e.logger.Debug(ctx, "Escalation rung yielded records", "strategy", strategy.Name, "count", len(rows))
			return e.buildPage(rows, strategy.Name, pagination), nil
		}
	}
	return &domain.WorkOrderPage{Records: []domain.DomainRecord{}, Pagination: pagination}, nil
}

func (e *WorkOrderQueryEngine) strategies() []domain.FilterStrategy {
	configured := e.cfgProvider.Get().Search.EscalationFilters
	if len(configured) == 0 {
		return defaultEscalation
	}
	strategies := make([]domain.FilterStrategy, 0, len(configured))
	for _, f := range configured {
		strategies = append(strategies, domain.FilterStrategy{Name: f.Name, Where: f.Where})
	}
	return strategies
}

// callWithAuthRetry issues the paginated query. A login-redirect response
// triggers exactly one forced refresh followed by one retry of the identical
// request; a second failure is terminal for this call and is reported as an
// auth-failure annotation, not an error.
func (e *WorkOrderQueryEngine) callWithAuthRetry(ctx context.Context, where string, pagination domain.PaginationState) ([]map[string]any, string, error) {
	req := e.buildRequest(where, pagination)

	rows, err := e.gateway.Search(ctx, req)
	if err == nil {
		return rows, "", nil
	}
	if !errors.Is(err, domain.ErrLoginRedirect) {
		return nil, "", err
	}

	e.logger.Warn(ctx, "Search lost the session mid-flight, forcing one refresh and retry")
	if refreshErr := e.sessions.RefreshNow(ctx); refreshErr != nil {
		return nil, fmt.Sprintf("session refresh failed: %v", refreshErr), nil
	}

	// Strictly ordered after the refresh completed; same request, new token.
	req.AccessToken = e.sessions.AccessToken()
	rows, err = e.gateway.Search(ctx, req)
	if err != nil {
		return nil, fmt.Sprintf("retry after refresh failed: %v", err), nil
	}
	return rows, "", nil
}

func (e *WorkOrderQueryEngine) buildRequest(where string, pagination domain.PaginationState) domain.SearchRequest {
	searchCfg := e.cfgProvider.Get().Search
	return domain.SearchRequest{
		Resource:    searchCfg.Resource,
		Fields:      searchCfg.Fields,
		Where:       where,
		Page:        pagination.Page,
		PageSize:    pagination.PageSize,
		OrderBy:     searchCfg.OrderBy,
		AccessToken: e.sessions.AccessToken(),
	}
}

func (e *WorkOrderQueryEngine) buildPage(rows []map[string]any, strategy string, pagination domain.PaginationState) *domain.WorkOrderPage {
	records := make([]domain.DomainRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.CleanRecord(row))
	}
	// The remote API exposes no reliable total count; a full page implies a
	// next one.
	pagination.HasNext = len(records) == pagination.PageSize
	return &domain.WorkOrderPage{Records: records, Pagination: pagination, Strategy: strategy}
}

// BuildFilter renders the criteria as a remote filter expression: field
// comparisons joined by " and ", multi-value sets as `in [...]`, free text as
// a %wildcard% match.
func BuildFilter(criteria domain.SearchCriteria) string {
	clauses := make([]string, 0, 5)
	if clause := siteClause(criteria.Site); clause != "" {
		clauses = append(clauses, clause)
	}
	if criteria.WorkType != "" {
		clauses = append(clauses, fmt.Sprintf(`worktype=%q`, criteria.WorkType))
	}
	if len(criteria.Statuses) > 0 {
		quoted := make([]string, 0, len(criteria.Statuses))
		for _, status := range criteria.Statuses {
			quoted = append(quoted, fmt.Sprintf("%q", status))
		}
		clauses = append(clauses, fmt.Sprintf("status in [%s]", strings.Join(quoted, ",")))
	}
	if criteria.FreeText != "" {
		clauses = append(clauses, fmt.Sprintf(`description="%%%s%%"`, criteria.FreeText))
	}
	if criteria.WorkOrderID != "" {
		clauses = append(clauses, fmt.Sprintf(`wonum=%q`, criteria.WorkOrderID))
	}
	return strings.Join(clauses, " and ")
}

func siteClause(site string) string {
	if site == "" {
		return ""
	}
	return fmt.Sprintf(`siteid=%q`, site)
}

func combineAnd(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		if clause != "" {
			parts = append(parts, clause)
		}
	}
	return strings.Join(parts, " and ")
}
