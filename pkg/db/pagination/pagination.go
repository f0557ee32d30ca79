package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Pagination is the query-string shape shared by every list endpoint.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// Cursor is the opaque position token handed back as next_cursor. CreatedAt
// is RFC3339Nano.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Time parses the cursor timestamp.
func (c *Cursor) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, c.CreatedAt)
}

type PageInfo struct {
	NextCursor     string `json:"next_cursor"`
	PreviousCursor string `json:"previous_cursor"`
	HasMore        bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo inspects a limit+1 result set fetched by
// option.ApplyPagination. The caller trims the extra row; this only decides
// has_more and where the next page starts.
func BuildCursorPageInfo[T any](rows []*T, limit int, extractCursor func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{HasMore: false}
	}

	hasMore := false
	if len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
	}

	return &PageInfo{
		HasMore:    hasMore,
		NextCursor: extractCursor(rows[len(rows)-1]),
	}
}
