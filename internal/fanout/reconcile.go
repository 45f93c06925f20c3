package fanout

import (
	"fmt"

	"github.com/tinywideclouds/go-article-push-service/pkg/notification"
)

// Reconcile folds batch results into one outcome.
//
// The policy is lenient: the dispatch succeeds as soon as one batch completed
// at the transport level, whatever its receipts say. Stale tokens are reported
// in Details.Errors and never demote the outcome. Only a dispatch in which
// every batch failed reports Success=false.
func Reconcile(results []notification.BatchResult) *notification.Outcome {
	total := 0
	delivered := 0
	var errs []notification.ErrorEntry
	var firstErr error

	for _, res := range results {
		total += len(res.Batch.Tokens)

		if res.Failed() {
			if firstErr == nil {
				firstErr = res.Err
			}
			for _, token := range res.Batch.Tokens {
				errs = append(errs, notification.ErrorEntry{
					Batch:   res.Batch.Index,
					Token:   token,
					Status:  notification.StatusError,
					Message: res.Err.Error(),
				})
			}
			continue
		}

		delivered++
		for _, r := range res.Receipts {
			if r.OK() {
				continue
			}
			errs = append(errs, notification.ErrorEntry{
				Batch:   res.Batch.Index,
				Token:   r.Token,
				Status:  r.Status,
				Message: r.Message,
				Details: r.Details,
			})
		}
	}

	out := &notification.Outcome{
		Success:     true,
		TokensCount: total,
		Message:     fmt.Sprintf("Notifications sent to %d devices", total),
	}
	if len(errs) > 0 {
		out.Details = &notification.OutcomeDetails{Errors: errs}
	} else {
		out.Details = &notification.OutcomeDetails{Success: true}
	}

	if len(results) > 0 && delivered == 0 {
		out.Success = false
		out.Message = fmt.Sprintf("Failed to send notifications to %d devices", total)
		out.Error = fmt.Sprintf("all %d batches failed: %v", len(results), firstErr)
	}
	return out
}
