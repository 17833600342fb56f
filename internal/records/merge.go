package records

// Merge combines a partial update into an existing record. Top-level
// scalars follow "incoming wins if present"; the trial and transfer
// sub-objects go through dedicated reducers so that independently arriving
// trial and subscription updates cannot resurrect spent state. The epoch
// is always max(existing, incoming) so it never regresses.
func Merge(existing DeviceRecord, update RecordUpdate) DeviceRecord {
	merged := existing

	if update.Email != nil {
		merged.Email = *update.Email
	}
	if update.StripeCustomerID != nil {
		merged.StripeCustomerID = *update.StripeCustomerID
	}
	if update.Status != nil {
		merged.Status = *update.Status
	}
	if update.CurrentPeriodEnd != nil {
		merged.CurrentPeriodEnd = Ptr(*update.CurrentPeriodEnd)
	}
	if update.CancelAtPeriodEnd != nil {
		merged.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if update.PlanPriceID != nil {
		merged.PlanPriceID = *update.PlanPriceID
	}
	if update.DeviceHash != nil {
		merged.DeviceHash = *update.DeviceHash
	}
	if update.Epoch != nil && *update.Epoch > merged.Epoch {
		merged.Epoch = *update.Epoch
	}
	if update.UpdatedAt != nil && *update.UpdatedAt > merged.UpdatedAt {
		merged.UpdatedAt = *update.UpdatedAt
	}

	merged.Trial = mergeTrial(existing.Trial, update.Trial, merged.HasSubscriptionHistory())

	if update.ClearTransfer {
		merged.Transfer = nil
	} else {
		merged.Transfer = mergeTransfer(existing.Transfer, update.Transfer)
	}

	return merged
}

// mergeTrial applies the shrink-only rule: once the existing trial is
// exhausted, or the holder has subscription history, allowance and
// remaining can only go down. Total is the max of both sides so the
// historical grant is never understated.
func mergeTrial(existing, incoming *TrialState, subscribed bool) *TrialState {
	if incoming == nil {
		return existing
	}

	merged := *incoming

	frozen := subscribed || existing.Exhausted()
	if frozen {
		base := TrialState{}
		if existing != nil {
			base = *existing
		}
		merged.Allowed = minInt(base.Allowed, incoming.Allowed)
		merged.Remaining = minInt(base.Remaining, incoming.Remaining)
		if merged.Allowed < 0 {
			merged.Allowed = 0
		}
		if merged.Remaining < 0 {
			merged.Remaining = 0
		}
		if existing != nil {
			if merged.UsedAt == nil {
				merged.UsedAt = existing.UsedAt
			}
			if merged.Started == nil {
				merged.Started = existing.Started
			}
			if merged.DeviceHash == "" {
				merged.DeviceHash = existing.DeviceHash
			}
		}
	}

	if existing != nil && existing.Total > merged.Total {
		merged.Total = existing.Total
	}
	if merged.Total < merged.Remaining {
		merged.Total = merged.Remaining
	}

	return &merged
}

// mergeTransfer takes incoming fields where set, falling back to the
// existing transfer. Pending is authoritative from the incoming side
// since every transfer update states it explicitly.
func mergeTransfer(existing, incoming *TransferState) *TransferState {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		merged := *incoming
		return &merged
	}

	merged := *incoming
	if merged.JTI == "" && merged.Pending {
		merged.JTI = existing.JTI
	}
	if merged.Exp == 0 && merged.Pending {
		merged.Exp = existing.Exp
	}
	if merged.Email == "" {
		merged.Email = existing.Email
	}
	if merged.InitiatedAt == nil {
		merged.InitiatedAt = existing.InitiatedAt
	}
	if merged.TargetDeviceHash == "" {
		merged.TargetDeviceHash = existing.TargetDeviceHash
	}
	if merged.CompletedAt == nil {
		merged.CompletedAt = existing.CompletedAt
	}
	if merged.CancelledAt == nil {
		merged.CancelledAt = existing.CancelledAt
	}
	return &merged
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
