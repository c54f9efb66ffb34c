// Package actions implements the persistent, de-duplicated action
// queue in front of the batch executor.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/indexer-agent/internal/models"
	"github.com/Bidon15/indexer-agent/internal/network"
	ierrors "github.com/Bidon15/indexer-agent/internal/pkg/errors"
	"github.com/Bidon15/indexer-agent/internal/repository"
)

// Queue validates, de-duplicates and persists allocation mutations.
type Queue struct {
	repo     repository.ActionRepository
	monitor  network.Monitor
	throttle time.Duration
	logger   *slog.Logger
}

// NewQueue creates an action queue. throttle is the window within which
// a terminal action suppresses re-queueing of the same type against the
// same deployment.
func NewQueue(repo repository.ActionRepository, monitor network.Monitor, throttle time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{repo: repo, monitor: monitor, throttle: throttle, logger: logger}
}

// Queue validates and stores actions. Validation failures abort the
// whole call; nothing is stored unless every action is admissible.
func (q *Queue) Queue(ctx context.Context, actions []*models.Action) ([]*models.Action, error) {
	for _, action := range actions {
		if err := q.validate(ctx, action); err != nil {
			return nil, err
		}
	}

	stored := make([]*models.Action, 0, len(actions))
	for _, action := range actions {
		if action.Status == "" {
			action.Status = models.ActionStatusQueued
		}
		s, err := q.repo.Upsert(ctx, action)
		if err != nil {
			return nil, err
		}
		q.logger.Info("action queued",
			slog.Int64("id", s.ID),
			slog.String("type", string(s.Type)),
			slog.String("deployment", s.DeploymentID),
			slog.String("source", s.Source),
		)
		stored = append(stored, s)
	}
	return stored, nil
}

func (q *Queue) validate(ctx context.Context, action *models.Action) error {
	if !action.Type.Valid() {
		return ierrors.Newf(ierrors.CodeMissingActionField, "unknown action type '%s'", action.Type)
	}
	if action.Status != "" && !action.Status.Valid() {
		return ierrors.Newf(ierrors.CodeMissingActionField, "unknown action status '%s'", action.Status)
	}
	if action.DeploymentID == "" {
		return ierrors.Newf(ierrors.CodeMissingActionField,
			"action of type '%s' requires a deploymentID", action.Type)
	}

	switch action.Type {
	case models.ActionTypeAllocate:
		if action.Amount == nil {
			return ierrors.Newf(ierrors.CodeMissingActionField,
				"allocate action for '%s' requires an amount", action.DeploymentID)
		}
	case models.ActionTypeUnallocate:
		if action.AllocationID == nil {
			return ierrors.Newf(ierrors.CodeMissingActionField,
				"unallocate action for '%s' requires an allocationID", action.DeploymentID)
		}
	case models.ActionTypeReallocate:
		if action.AllocationID == nil || action.Amount == nil {
			return ierrors.Newf(ierrors.CodeMissingActionField,
				"reallocate action for '%s' requires an allocationID and an amount", action.DeploymentID)
		}
	}

	deployment, err := models.ParseDeploymentID(action.DeploymentID)
	if err != nil {
		return ierrors.Wrap(ierrors.CodeInvalidIdentifier, err, "invalid deploymentID '%s'", action.DeploymentID)
	}

	if q.throttle > 0 {
		recent, err := q.repo.HasRecentTerminal(ctx, action.DeploymentID, action.ProtocolNetwork, action.Type, q.throttle)
		if err != nil {
			return err
		}
		if recent {
			return ierrors.Newf(ierrors.CodeRecentlyExecuted,
				"Recently executed '%s' action found in queue targeting '%s'", action.Type, action.DeploymentID)
		}
	}

	published, err := q.monitor.Deployment(ctx, deployment)
	if err != nil {
		return err
	}
	if published == nil {
		return ierrors.Newf(ierrors.CodeDeploymentNotFound,
			"Deployment '%s' has not been published to the network", action.DeploymentID)
	}

	if action.AllocationID != nil &&
		(action.Type == models.ActionTypeUnallocate || action.Type == models.ActionTypeReallocate) {
		allocation, err := q.monitor.Allocation(ctx, common.HexToAddress(*action.AllocationID))
		if err != nil {
			return err
		}
		if allocation == nil || allocation.Status != models.AllocationStatusActive {
			return ierrors.Newf(ierrors.CodeAllocationNotActive,
				"An active allocation does not exist with id = '%s'", *action.AllocationID)
		}
	}
	return nil
}

// Approve moves actions from queued to approved. All ids must exist.
func (q *Queue) Approve(ctx context.Context, ids []int64) ([]*models.Action, error) {
	if err := q.requireAll(ctx, ids); err != nil {
		return nil, err
	}
	return q.repo.UpdateStatus(ctx, ids, models.ActionStatusApproved, nil, nil)
}

// Cancel moves actions to canceled. All ids must exist.
func (q *Queue) Cancel(ctx context.Context, ids []int64) ([]*models.Action, error) {
	if err := q.requireAll(ctx, ids); err != nil {
		return nil, err
	}
	return q.repo.UpdateStatus(ctx, ids, models.ActionStatusCanceled, nil, nil)
}

// Delete removes actions. All ids must exist.
func (q *Queue) Delete(ctx context.Context, ids []int64) (int, error) {
	if err := q.requireAll(ctx, ids); err != nil {
		return 0, err
	}
	return q.repo.Delete(ctx, ids)
}

// Fetch returns actions matching the filter, ordered by id ascending
// unless overridden.
func (q *Queue) Fetch(ctx context.Context, filter models.ActionFilter, orderBy *models.ActionOrderBy, direction *models.OrderDirection) ([]*models.Action, error) {
	return q.repo.Find(ctx, filter, orderBy, direction)
}

// Approved returns the approved actions of a network in execution
// order: priority descending, then id ascending.
func (q *Queue) Approved(ctx context.Context, protocolNetwork string) ([]*models.Action, error) {
	status := models.ActionStatusApproved
	orderBy := models.ActionOrderBy("priority")
	dir := models.OrderDesc
	return q.repo.Find(ctx, models.ActionFilter{
		Status:          &status,
		ProtocolNetwork: &protocolNetwork,
	}, &orderBy, &dir)
}

func (q *Queue) requireAll(ctx context.Context, ids []int64) error {
	found, err := q.repo.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(found) == len(ids) {
		return nil
	}
	present := make(map[int64]bool, len(found))
	for _, a := range found {
		present[a.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, strconv.FormatInt(id, 10))
		}
	}
	return ierrors.Newf(ierrors.CodeActionNotFound,
		"No action items found with id in [%s]", strings.Join(missing, ","))
}

// Summary renders a short human description for logs.
func Summary(a *models.Action) string {
	switch a.Type {
	case models.ActionTypeAllocate:
		return fmt.Sprintf("allocate %s to %s", deref(a.Amount), a.DeploymentID)
	case models.ActionTypeUnallocate:
		return fmt.Sprintf("unallocate %s from %s", deref(a.AllocationID), a.DeploymentID)
	case models.ActionTypeReallocate:
		return fmt.Sprintf("reallocate %s on %s with %s", deref(a.AllocationID), a.DeploymentID, deref(a.Amount))
	default:
		return string(a.Type)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
