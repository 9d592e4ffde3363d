package core

import (
	"context"

	"github.com/target/mmk-ui-api/internal/domain/model"
)

// AlertDispatcher fans an alert out to its configured notification channels.
type AlertDispatcher interface {
	// Dispatch sends an alert to each channel in alert.Channels.
	// Returns an error if any channel failed; a retry of the dispatch
	// re-attempts every channel, not only the ones that failed.
	Dispatch(ctx context.Context, alert *model.Alert) error
}
