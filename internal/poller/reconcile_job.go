package poller

import (
	"context"
	"fmt"
)

const reconcileJobName = "notifications.reconcile"

// Refresher re-reads server state.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ReconcileJob re-fetches the notification list and unread counter.
type ReconcileJob struct {
	target Refresher
}

func NewReconcileJob(target Refresher) (*ReconcileJob, error) {
	if target == nil {
		return nil, fmt.Errorf("refresher required")
	}
	return &ReconcileJob{target: target}, nil
}

func (j *ReconcileJob) Name() string { return reconcileJobName }

func (j *ReconcileJob) Run(ctx context.Context) error {
	return j.target.Refresh(ctx)
}
