// Package policyfile serves role grants and role permissions from a casbin
// model and CSV policy instead of the database.
//
// Policy rules use the shape "p, role, resource, action". Grouping rules
// "g, <user id>, role" assign roles to users and "g, role, parent" lets a
// role inherit another role's permissions.
package policyfile

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Config points at an optional model and policy on disk. Empty paths use the
// embedded defaults.
type Config struct {
	ModelPath  string
	PolicyPath string
}

// Source implements auth.PermissionSource over a casbin enforcer.
type Source struct {
	enforcer *casbin.SyncedEnforcer
	fromFile bool
}

var _ auth.PermissionSource = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, statErr := os.Stat(cfg.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("policy file: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
		if err != nil {
			return nil, fmt.Errorf("create casbin enforcer: %w", err)
		}
		if err := checkRules(enforcer); err != nil {
			return nil, err
		}
		return &Source{enforcer: enforcer, fromFile: true}, nil
	}
	enforcer, err = newStringEnforcer(m, embeddedPolicy)
	if err != nil {
		return nil, err
	}
	return &Source{enforcer: enforcer}, nil
}

// NewFromString builds a source from inline policy text. Used by tests and
// by callers that keep policy outside the filesystem.
func NewFromString(policy string) (*Source, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	enforcer, err := newStringEnforcer(m, policy)
	if err != nil {
		return nil, err
	}
	return &Source{enforcer: enforcer}, nil
}

// newStringEnforcer loads CSV policy text through casbin's string adapter.
// Lines are trimmed first so indented policy blocks parse like a file.
func newStringEnforcer(m model.Model, policy string) (*casbin.SyncedEnforcer, error) {
	lines := make([]string, 0, strings.Count(policy, "\n")+1)
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ptype, _, _ := strings.Cut(line, ",")
		if ptype = strings.TrimSpace(ptype); ptype != "p" && ptype != "g" {
			return nil, fmt.Errorf("unknown rule type %q", ptype)
		}
		lines = append(lines, line)
	}
	var (
		enforcer *casbin.SyncedEnforcer
		err      error
	)
	if len(lines) == 0 {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(strings.Join(lines, "\n")))
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if err := checkRules(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// checkRules enforces the "p, role, resource, action" and "g, subject, role"
// shapes on whatever the adapter loaded.
func checkRules(enforcer *casbin.SyncedEnforcer) error {
	rules, err := enforcer.GetPolicy()
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	for _, rule := range rules {
		if len(rule) != 3 {
			return fmt.Errorf("policy rule %v: want role, resource, action", rule)
		}
	}
	groups, err := enforcer.GetGroupingPolicy()
	if err != nil {
		return fmt.Errorf("read grouping policy: %w", err)
	}
	for _, rule := range groups {
		if len(rule) != 2 {
			return fmt.Errorf("grouping rule %v: want subject, role", rule)
		}
	}
	return nil
}

// Reload re-reads the policy file. Sources built from the embedded policy
// have nothing to reload.
func (s *Source) Reload() error {
	if !s.fromFile {
		return nil
	}
	return s.enforcer.LoadPolicy()
}

// UserRoles returns the user's roles including inherited ones.
func (s *Source) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, errors.New("policyfile: user id must be positive")
	}
	roles, err := s.enforcer.GetImplicitRolesForUser(strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}
	sort.Strings(roles)
	return roles, nil
}

// UserPermissions collects "resource:action" names from every policy rule
// whose subject is the user or one of the user's roles.
func (s *Source) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	subjects := append([]string{strconv.FormatInt(userID, 10)}, roles...)

	seen := make(map[string]struct{})
	for _, sub := range subjects {
		rules, err := s.enforcer.GetFilteredPolicy(0, sub)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			if len(rule) < 3 {
				continue
			}
			seen[auth.PermissionName(rule[1], rule[2])] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
