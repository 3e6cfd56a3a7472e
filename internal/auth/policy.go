package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Combinator reduces several permission checks into one decision.
type Combinator string

const (
	CombinatorAll Combinator = "ALL"
	CombinatorAny Combinator = "ANY"
)

// Valid reports whether c is ALL or ANY.
func (c Combinator) Valid() bool {
	return c == CombinatorAll || c == CombinatorAny
}

// Requirement is a single (resource, action) pair a request must hold.
type Requirement struct {
	Resource string
	Action   string
}

// Require builds a requirement from a resource and an action.
func Require(resource, action string) Requirement {
	return Requirement{Resource: resource, Action: action}
}

// Name returns the "resource:action" form.
func (r Requirement) Name() string {
	return PermissionName(r.Resource, r.Action)
}

// RequirementNames lists the names of reqs in order.
func RequirementNames(reqs []Requirement) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Name()
	}
	return names
}

// RoleCheck is true iff held and required share at least one role.
// An empty required set never matches.
func RoleCheck(held, required []string) bool {
	if len(required) == 0 || len(held) == 0 {
		return false
	}
	set := toSet(held)
	for _, role := range required {
		if _, ok := set[normalizeName(role)]; ok {
			return true
		}
	}
	return false
}

// PolicyEvaluator answers permission questions through a PermissionResolver.
type PolicyEvaluator struct {
	resolver PermissionResolver
}

// NewPolicyEvaluator constructs an evaluator.
func NewPolicyEvaluator(resolver PermissionResolver) (*PolicyEvaluator, error) {
	if resolver == nil {
		return nil, errors.New("permission resolver is required")
	}
	return &PolicyEvaluator{resolver: resolver}, nil
}

// PermissionCheck reports whether the user holds resource:action.
func (e *PolicyEvaluator) PermissionCheck(ctx context.Context, userID int64, resource, action string) (bool, error) {
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(action) == "" {
		return false, fmt.Errorf("%w: resource and action are required", ErrInvalidPolicy)
	}
	return e.resolver.HasPermission(ctx, userID, resource, action)
}

// MultiPermissionCheck evaluates every requirement concurrently, without
// stopping at the first decisive answer, then reduces the results with comb.
func (e *PolicyEvaluator) MultiPermissionCheck(ctx context.Context, userID int64, reqs []Requirement, comb Combinator) (bool, error) {
	if len(reqs) == 0 {
		return false, fmt.Errorf("%w: at least one requirement is needed", ErrInvalidPolicy)
	}
	if !comb.Valid() {
		return false, fmt.Errorf("%w: unknown combinator %q", ErrInvalidPolicy, comb)
	}

	results := make([]bool, len(reqs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		eg.Go(func() error {
			ok, err := e.PermissionCheck(egCtx, userID, req.Resource, req.Action)
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return false, err
	}
	return reduce(results, comb), nil
}

func reduce(results []bool, comb Combinator) bool {
	if comb == CombinatorAll {
		for _, ok := range results {
			if !ok {
				return false
			}
		}
		return true
	}
	for _, ok := range results {
		if ok {
			return true
		}
	}
	return false
}
