package application

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
)

// Modules that can be gated by the license.
const (
	// ModuleSync allows syncing the library with the remote store.
	ModuleSync = "sync"
	// ModuleAutoSync allows data changes to schedule syncs without user
	// action.
	ModuleAutoSync = "autosync"
)

// autoSyncPlans lists the plans whose changes sync automatically. An empty
// plan counts as pro: keys issued before plans carried a name report none.
var autoSyncPlans = []string{"", "pro", "team"}

// EntitlementService answers which modules the current license grants.
// Sync modules require a live Active license; a grace-period license keeps
// the editor's pro features but holds sync until the next successful
// validation.
type EntitlementService struct {
	licenses *Service
}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService(licenses *Service) *EntitlementService {
	return &EntitlementService{licenses: licenses}
}

// HasEntitlement reports whether the current license grants a module.
func (s *EntitlementService) HasEntitlement(ctx context.Context, module string) (bool, error) {
	license, err := s.licenses.Current(ctx)
	if err != nil {
		return false, err
	}
	if license.Status != domain.StatusActive {
		return false, nil
	}

	switch module {
	case ModuleSync:
		return true, nil
	case ModuleAutoSync:
		return slices.Contains(autoSyncPlans, strings.ToLower(license.Plan)), nil
	default:
		return false, nil
	}
}

// ListEntitlements returns the modules the current license grants.
func (s *EntitlementService) ListEntitlements(ctx context.Context) ([]string, error) {
	modules := make([]string, 0, 2)
	for _, module := range []string{ModuleSync, ModuleAutoSync} {
		granted, err := s.HasEntitlement(ctx, module)
		if err != nil {
			return nil, err
		}
		if granted {
			modules = append(modules, module)
		}
	}
	return modules, nil
}

// Gate adapts the entitlement service to the yes/no questions the sync
// layer asks. Lookup failures are logged and answered with false so a
// broken license store never lets a sync through.
type Gate struct {
	entitlements *EntitlementService
	logger       *slog.Logger
}

// NewGate creates a new license gate.
func NewGate(entitlements *EntitlementService, logger *slog.Logger) *Gate {
	return &Gate{entitlements: entitlements, logger: logger}
}

// SyncAllowed reports whether the license grants sync at all.
func (g *Gate) SyncAllowed(ctx context.Context) bool {
	return g.allowed(ctx, ModuleSync)
}

// AutoSyncAllowed reports whether data changes should trigger sync without
// user action.
func (g *Gate) AutoSyncAllowed(ctx context.Context) bool {
	return g.allowed(ctx, ModuleAutoSync)
}

func (g *Gate) allowed(ctx context.Context, module string) bool {
	granted, err := g.entitlements.HasEntitlement(ctx, module)
	if err != nil {
		g.logger.Warn("entitlement check failed", "module", module, "error", err)
		return false
	}
	return granted
}
