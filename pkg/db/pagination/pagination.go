package pagination

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Pagination is an offset window bound from query parameters.
type Pagination struct {
	Limit int `form:"limit,default=10"`
	Skip  int `form:"skip,default=0"`
}

type PageInfo struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Skip    int   `json:"skip"`
	HasMore bool  `json:"hasMore"`
}

// Normalize clamps the window to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}

func BuildPageInfo(page Pagination, total int64) PageInfo {
	page = page.Normalize()
	return PageInfo{
		Total:   total,
		Limit:   page.Limit,
		Skip:    page.Skip,
		HasMore: int64(page.Skip+page.Limit) < total,
	}
}
