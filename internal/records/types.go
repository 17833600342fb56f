package records

// DeviceRecord is the single persisted record type, keyed by device hash.
// Field names match the stored JSON exactly; legacy records share the same
// shape under a user-id key.
type DeviceRecord struct {
	Email             string         `json:"email,omitempty"`
	StripeCustomerID  string         `json:"stripe_customer_id,omitempty"`
	Status            string         `json:"status,omitempty"`
	CurrentPeriodEnd  *int64         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end,omitempty"`
	PlanPriceID       string         `json:"plan_price_id,omitempty"`
	DeviceHash        string         `json:"device_hash,omitempty"`
	Epoch             int64          `json:"epoch"`
	UpdatedAt         int64          `json:"updated_at"`
	Trial             *TrialState    `json:"trial,omitempty"`
	Transfer          *TransferState `json:"transfer,omitempty"`
}

// HasSubscriptionHistory reports whether the record has ever been attached
// to a paying customer. Once true, the trial can only shrink.
func (r DeviceRecord) HasSubscriptionHistory() bool {
	return r.StripeCustomerID != "" || r.Status != ""
}

// TrialState tracks the per-device trial quota and the pending one-time
// claim token.
type TrialState struct {
	Allowed    int    `json:"allowed"`
	Total      int    `json:"total"`
	Remaining  int    `json:"remaining"`
	Started    *int64 `json:"started,omitempty"`
	UsedAt     *int64 `json:"used_at,omitempty"`
	DeviceHash string `json:"device_hash,omitempty"`
	JTI        string `json:"jti,omitempty"`
	Exp        int64  `json:"exp,omitempty"`
}

// Exhausted reports whether the trial has no value left to grant.
func (t *TrialState) Exhausted() bool {
	if t == nil {
		return false
	}
	return t.Remaining <= 0 || t.UsedAt != nil
}

// TransferState tracks a device-to-device license move. The mixed
// snake/camel field names are the stored wire format.
type TransferState struct {
	Pending          bool   `json:"pending"`
	JTI              string `json:"jti,omitempty"`
	Exp              int64  `json:"exp,omitempty"`
	Email            string `json:"email,omitempty"`
	InitiatedAt      *int64 `json:"initiated_at,omitempty"`
	TargetDeviceHash string `json:"targetDeviceHash,omitempty"`
	CompletedAt      *int64 `json:"completedAt,omitempty"`
	CancelledAt      *int64 `json:"cancelledAt,omitempty"`
}

// PendingAt reports whether a transfer is pending and its token unexpired
// at the given unix time.
func (t *TransferState) PendingAt(now int64) bool {
	if t == nil || !t.Pending {
		return false
	}
	return t.Exp == 0 || t.Exp > now
}

// RecordUpdate is a partial update applied through Merge. Nil pointers
// leave the existing value untouched; a pointer to the zero value clears
// the field.
type RecordUpdate struct {
	Email             *string
	StripeCustomerID  *string
	Status            *string
	CurrentPeriodEnd  *int64
	CancelAtPeriodEnd *bool
	PlanPriceID       *string
	DeviceHash        *string
	Epoch             *int64
	UpdatedAt         *int64
	Trial             *TrialState
	Transfer          *TransferState

	// ClearTransfer drops the transfer sub-object entirely, regardless of
	// the existing state.
	ClearTransfer bool
}

// Ptr returns a pointer to v; it keeps RecordUpdate literals compact.
func Ptr[T any](v T) *T {
	return &v
}
