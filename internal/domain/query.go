package domain

// SearchCriteria is the caller-supplied work-order filter. All fields are
// optional; an entirely empty criteria set means "lazy listing": no remote
// call is made at all. DefaultListing asks for the escalation ladder instead.
type SearchCriteria struct {
	Site        string   `json:"site,omitempty"`
	WorkType    string   `json:"work_type,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
	FreeText    string   `json:"free_text,omitempty"`
	WorkOrderID string   `json:"work_order_id,omitempty"`

	DefaultListing bool `json:"default_listing,omitempty"`
}

// IsEmpty reports whether no explicit filter and no default listing were
// requested.
func (c SearchCriteria) IsEmpty() bool {
	return c.Site == "" && c.WorkType == "" && len(c.Statuses) == 0 &&
		c.FreeText == "" && c.WorkOrderID == "" && !c.DefaultListing
}

// FilterStrategy is one rung of the escalation ladder: a named status-group
// filter expression. An empty Where is the unfiltered fallback. Strategies
// are tried strictly in order and never merged.
type FilterStrategy struct {
	Name  string
	Where string
}

// PaginationState describes the position of a returned page. HasNext is
// derived from whether the page came back full, since the remote API does not
// reliably expose total counts.
type PaginationState struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	HasPrev  bool `json:"has_prev"`
}

// WorkOrderPage is one page of cleaned work-order records. Strategy names the
// escalation rung that produced the records (empty for explicit criteria).
// AuthFailure annotates a page returned empty because the session was lost
// and the single refresh-and-retry also failed.
type WorkOrderPage struct {
	Records     []DomainRecord  `json:"records"`
	Pagination  PaginationState `json:"pagination"`
	Strategy    string          `json:"strategy,omitempty"`
	AuthFailure string          `json:"auth_failure,omitempty"`
}
