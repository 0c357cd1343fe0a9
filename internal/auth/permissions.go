package auth

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const groupFanout = 8

var tracer = otel.Tracer("chatarra.io/internal/auth")

// PermissionSet is a set of permission keys.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from keys, ignoring empty ones.
func NewPermissionSet(keys ...string) PermissionSet {
	s := make(PermissionSet, len(keys))
	s.Add(keys...)
	return s
}

// Add inserts keys into the set.
func (s PermissionSet) Add(keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		s[k] = struct{}{}
	}
}

// Has reports whether key is in the set.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of distinct keys.
func (s PermissionSet) Len() int { return len(s) }

// Sorted returns the keys in ascending order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PermissionResolver computes the effective permissions of a user: the union
// of direct grants and grants reachable through group membership.
type PermissionResolver struct {
	store PermissionStore
}

// NewPermissionResolver constructs a resolver over store.
func NewPermissionResolver(store PermissionStore) *PermissionResolver {
	return &PermissionResolver{store: store}
}

// Resolve returns the effective permission set of userID. Unknown or deleted
// users resolve to an empty set.
func (r *PermissionResolver) Resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, error) {
	ctx, span := tracer.Start(ctx, "auth.ResolvePermissions")
	defer span.End()

	set, err := r.resolve(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve permissions")
		return nil, err
	}
	span.SetAttributes(attribute.Int("auth.permissions", set.Len()))
	return set, nil
}

func (r *PermissionResolver) resolve(ctx context.Context, userID uuid.UUID) (PermissionSet, error) {
	var (
		direct []string
		groups []uuid.UUID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keys, err := r.store.DirectPermissionKeys(gctx, userID)
		if err != nil {
			return unavailable("direct permissions", err)
		}
		direct = keys
		return nil
	})
	g.Go(func() error {
		ids, err := r.store.UserGroupIDs(gctx, userID)
		if err != nil {
			return unavailable("user groups", err)
		}
		groups = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := NewPermissionSet(direct...)
	if len(groups) == 0 {
		return set, nil
	}

	perGroup := make([][]string, len(groups))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(groupFanout)
	for i, groupID := range groups {
		g.Go(func() error {
			keys, err := r.store.GroupPermissionKeys(gctx, groupID)
			if err != nil {
				return unavailable("group permissions", err)
			}
			perGroup[i] = keys
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, keys := range perGroup {
		set.Add(keys...)
	}
	return set, nil
}
