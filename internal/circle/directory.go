package circle

import (
	"context"
	"fmt"

	"github.com/foxseedlab/circles/internal/apperr"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/samber/lo"
)

// ListFilter narrows a directory listing. Zero values do not filter.
type ListFilter struct {
	Status   Status
	Category string
	Privacy  Privacy
	IsReplay *bool
	// Cursor is the id of the last circle of the previous page.
	Cursor string
	Limit  int
}

type Page struct {
	Circles    []*Circle `json:"circles"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type Detail struct {
	Circle     *Circle      `json:"circle"`
	Members    []*Member    `json:"members"`
	HandRaises []*HandRaise `json:"handRaises"`
}

// List pages through circles ordered by startAt, then id.
func (m *MembershipCoordinator) List(ctx context.Context, filter ListFilter) (*Page, error) {
	q := store.Query{Collection: circlesCollection, OrderBy: "startAt"}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, apperr.MalformedInput("unknown status %q", filter.Status)
		}
		q.Filters = append(q.Filters, store.Filter{Field: "status", Value: string(filter.Status)})
	}
	if filter.Category != "" {
		q.Filters = append(q.Filters, store.Filter{Field: "category", Value: filter.Category})
	}
	if filter.Privacy != "" {
		if !filter.Privacy.Valid() {
			return nil, apperr.MalformedInput("unknown privacy %q", filter.Privacy)
		}
		q.Filters = append(q.Filters, store.Filter{Field: "privacy", Value: string(filter.Privacy)})
	}
	if filter.IsReplay != nil {
		q.Filters = append(q.Filters, store.Filter{Field: "isReplay", Value: *filter.IsReplay})
	}
	if filter.Cursor != "" {
		last, err := m.readCircle(ctx, filter.Cursor)
		if err != nil {
			return nil, err
		}
		if last == nil {
			return nil, apperr.MalformedInput("cursor %s does not name a circle", filter.Cursor)
		}
		q.StartAfter = &store.Cursor{Value: store.Millis(last.StartAt), ID: last.ID}
	}

	limit := m.pageSize(filter.Limit)
	q.Limit = limit + 1
	docs, err := m.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list circles: %w", err)
	}
	page := &Page{}
	if len(docs) > limit {
		docs = docs[:limit]
		page.NextCursor = docs[limit-1].ID()
	}
	page.Circles = lo.Map(docs, func(doc store.Document, _ int) *Circle {
		return decodeCircle(&doc)
	})
	return page, nil
}

func (m *MembershipCoordinator) pageSize(requested int) int {
	if requested <= 0 {
		return m.opts.DefaultPageSize
	}
	return min(requested, m.opts.MaxPageSize)
}

// Detail returns the circle with its active members and open hand raises.
func (m *MembershipCoordinator) Detail(ctx context.Context, circleID string) (*Detail, error) {
	circle, err := m.readCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle == nil {
		return nil, apperr.NotFound("circle %s not found", circleID)
	}

	memberDocs, err := m.store.Query(ctx, store.Query{Collection: membersCollection(circleID), OrderBy: "joinedAt"})
	if err != nil {
		return nil, fmt.Errorf("failed to list members of circle %s: %w", circleID, err)
	}
	members := lo.FilterMap(memberDocs, func(doc store.Document, _ int) (*Member, bool) {
		member := decodeMember(&doc)
		return member, member.Status == MemberActive
	})

	handDocs, err := m.store.Query(ctx, store.Query{Collection: handRaisesCollection(circleID), OrderBy: "raisedAt"})
	if err != nil {
		return nil, fmt.Errorf("failed to list hand raises of circle %s: %w", circleID, err)
	}
	hands := lo.Map(handDocs, func(doc store.Document, _ int) *HandRaise {
		return decodeHandRaise(&doc)
	})
	return &Detail{Circle: circle, Members: members, HandRaises: hands}, nil
}
