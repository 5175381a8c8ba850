package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// Metadata keys written to the identity provider.
const (
	MetaStatus            = "subscription_status"
	MetaPlan              = "subscription_plan"
	MetaEnd               = "subscription_end"
	MetaCancelAtPeriodEnd = "cancel_at_period_end"
	MetaCancelAt          = "cancel_at"
	MetaLastChecked       = "last_checked"
)

// MetadataWriter is the identity-provider capability. pkg/clerk implements it.
type MetadataWriter interface {
	UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]string) error
}

// Project builds the metadata summary for sub. A canceled subscription
// projects every key with an empty value.
func Project(sub *Subscription, planName string, now time.Time) map[string]string {
	if sub == nil || sub.IsCanceled() {
		return map[string]string{
			MetaStatus:            "",
			MetaPlan:              "",
			MetaEnd:               "",
			MetaCancelAtPeriodEnd: "",
			MetaCancelAt:          "",
			MetaLastChecked:       "",
		}
	}
	return map[string]string{
		MetaStatus:            string(sub.Status),
		MetaPlan:              planName,
		MetaEnd:               formatTime(sub.CurrentPeriodEnd),
		MetaCancelAtPeriodEnd: strconv.FormatBool(sub.CancelAtPeriodEnd),
		MetaCancelAt:          formatTime(sub.CancelAt),
		MetaLastChecked:       now.UTC().Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// MetadataSync projects committed subscriptions into identity-provider
// metadata. It never touches the subscription row except to advance
// last_metadata_sync after a successful write.
type MetadataSync struct {
	writer  MetadataWriter
	store   Store
	plans   PlanCatalog
	timeout time.Duration
	options
}

// NewMetadataSync creates a MetadataSync. timeout bounds each provider write;
// zero means the caller's context alone bounds it.
func NewMetadataSync(writer MetadataWriter, store Store, plans PlanCatalog, timeout time.Duration, opts ...Option) *MetadataSync {
	return &MetadataSync{
		writer:  writer,
		store:   store,
		plans:   plans,
		timeout: timeout,
		options: newOptions("metadata_sync", opts),
	}
}

// SyncUser projects the row currently stored for userID. A user without a
// row has nothing to project.
func (m *MetadataSync) SyncUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", ErrValidation)
	}
	sub, err := m.store.FindByUserID(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		m.log.DebugContext(ctx, "no subscription to sync", logger.UserID(userID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	return m.Sync(ctx, sub)
}

// Sync projects sub as given. Callers must pass the committed row.
func (m *MetadataSync) Sync(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("%w: subscription without user", ErrValidation)
	}

	meta := Project(sub, m.planName(ctx, sub), m.now())

	wctx, cancel := m.withTimeout(ctx)
	err := m.writer.UpdateUserMetadata(wctx, sub.UserID, meta)
	cancel()
	if err != nil {
		m.recorder.MetadataSync("failed")
		return fmt.Errorf("%w: update user metadata: %w", ErrExternalProvider, err)
	}

	if err := m.store.MarkMetadataSynced(ctx, sub.UserID, m.now().UTC()); err != nil {
		// The metadata is written; a stale timestamp only causes a redundant resync.
		m.log.WarnContext(ctx, "failed to record metadata sync",
			logger.UserID(sub.UserID),
			logger.Error(err),
		)
	}
	m.recorder.MetadataSync("synced")
	return nil
}

func (m *MetadataSync) planName(ctx context.Context, sub *Subscription) string {
	if sub.PlanID == nil || sub.IsCanceled() {
		return ""
	}
	plan, err := m.plans.GetPlan(ctx, *sub.PlanID)
	if err != nil {
		if !errors.Is(err, ErrPlanNotFound) {
			m.log.WarnContext(ctx, "plan lookup failed, plan name omitted",
				logger.UserID(sub.UserID),
				logger.Error(err),
			)
		}
		return ""
	}
	return plan.Name
}

func (m *MetadataSync) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}
