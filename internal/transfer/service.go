package transfer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/records"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/mailer"
)

// InitiateResult reports where the magic link was sent and how long the
// transfer window stays open.
type InitiateResult struct {
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires_at"`
}

// CompleteResult is the new binding after a successful transfer.
type CompleteResult struct {
	DeviceHash string `json:"device_hash"`
	Epoch      int64  `json:"epoch"`
}

// ServiceParams wires the transfer workflow dependencies.
type ServiceParams struct {
	Coordinator   *records.Coordinator
	Resolver      *records.Resolver
	Mailer        mailer.Sender
	TokenTTL      time.Duration
	AcceptBaseURL string
	AppScheme     string
}

// Service moves a paid license from one device to another through an
// emailed magic link.
type Service struct {
	coordinator   *records.Coordinator
	resolver      *records.Resolver
	mailer        mailer.Sender
	tokenTTL      time.Duration
	acceptBaseURL string
	appScheme     string
	clock         func() time.Time
}

// NewService validates the params and builds the transfer service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Coordinator == nil {
		return nil, fmt.Errorf("mutation coordinator is required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if params.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	if strings.TrimSpace(params.AcceptBaseURL) == "" {
		return nil, fmt.Errorf("accept base url is required")
	}
	if strings.TrimSpace(params.AppScheme) == "" {
		return nil, fmt.Errorf("app scheme is required")
	}
	return &Service{
		coordinator:   params.Coordinator,
		resolver:      params.Resolver,
		mailer:        params.Mailer,
		tokenTTL:      params.TokenTTL,
		acceptBaseURL: strings.TrimRight(params.AcceptBaseURL, "/"),
		appScheme:     params.AppScheme,
		clock:         time.Now,
	}, nil
}

// Initiate opens a transfer window for the device and emails the owner a
// magic link. A send failure rolls the pending state back so the device is
// not left stuck behind a transfer it never heard about.
func (s *Service) Initiate(ctx context.Context, deviceHash string) (*InitiateResult, error) {
	if deviceHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash is required")
	}

	var (
		email string
		jti   string
		exp   int64
	)
	_, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, exists bool, now time.Time) records.Outcome {
		if !exists || !entitlement.IsEntitled(current.Status, current.CurrentPeriodEnd, now) {
			return records.Reject(pkgerrors.New(pkgerrors.CodeSubscriptionRequired, "transfers require an active paid subscription"))
		}
		if current.Transfer.PendingAt(now.Unix()) {
			return records.Reject(pkgerrors.New(pkgerrors.CodeTransferAlreadyPending, "a transfer is already in flight for this device"))
		}
		if current.Email == "" {
			return records.Reject(pkgerrors.New(pkgerrors.CodeInvalidRequest, "record has no contact email"))
		}

		email = current.Email
		jti = uuid.NewString()
		exp = now.Add(s.tokenTTL).Unix()
		return records.Update(records.RecordUpdate{
			Transfer: &records.TransferState{
				Pending:     true,
				JTI:         jti,
				Exp:         exp,
				Email:       email,
				InitiatedAt: records.Ptr(now.Unix()),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	link := s.acceptLink(deviceHash, jti)
	if err := s.mailer.Send(ctx, transferEmail(email, link)); err != nil {
		rollbackErr := s.rollback(ctx, deviceHash)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, multierr.Append(err, rollbackErr), "sending transfer email")
	}

	return &InitiateResult{Email: email, ExpiresAt: exp}, nil
}

// Complete validates the emailed token and re-binds the license to the new
// device. The epoch is bumped by exactly one so every token issued to the
// old device fails validation without a per-token revocation entry.
func (s *Service) Complete(ctx context.Context, deviceHash, legacyUserID, token, newDeviceHash string) (*CompleteResult, error) {
	newDeviceHash = strings.TrimSpace(newDeviceHash)
	if newDeviceHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "new device_hash is required")
	}
	if deviceHash == "" && legacyUserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash or user_id is required")
	}
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeTransferTokenInvalid, "transfer token is required")
	}

	res, err := s.resolver.Resolve(ctx, deviceHash, legacyUserID)
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeTransferNotPending, "no transfer is pending for this device")
	}
	current := *res.Record
	oldHash := res.DeviceHash
	if newDeviceHash == oldHash {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "transfer target is the current device")
	}

	now := s.clock()
	tr := current.Transfer
	if tr == nil || !tr.Pending {
		return nil, pkgerrors.New(pkgerrors.CodeTransferNotPending, "no transfer is pending for this device")
	}
	if tr.JTI == "" || tr.JTI != token {
		return nil, pkgerrors.New(pkgerrors.CodeTransferTokenInvalid, "transfer token does not match")
	}
	if tr.Exp != 0 && tr.Exp <= now.Unix() {
		// Clear the stale window so a later initiate is not blocked.
		err := multierr.Append(
			pkgerrors.New(pkgerrors.CodeTransferTokenExpired, "transfer token has expired"),
			s.rollback(ctx, oldHash),
		)
		return nil, err
	}
	if !entitlement.IsEntitled(current.Status, current.CurrentPeriodEnd, now) {
		return nil, pkgerrors.New(pkgerrors.CodeNotEntitled, "entitlement lapsed while the transfer was pending")
	}

	completed := records.TransferState{
		Pending:          false,
		Email:            tr.Email,
		InitiatedAt:      tr.InitiatedAt,
		TargetDeviceHash: newDeviceHash,
		CompletedAt:      records.Ptr(now.Unix()),
	}
	merged, err := s.coordinator.Mutate(ctx, newDeviceHash, func(records.DeviceRecord, bool, time.Time) records.Outcome {
		return records.Update(records.RecordUpdate{
			Email:             records.Ptr(current.Email),
			StripeCustomerID:  records.Ptr(current.StripeCustomerID),
			Status:            records.Ptr(current.Status),
			CurrentPeriodEnd:  current.CurrentPeriodEnd,
			CancelAtPeriodEnd: records.Ptr(current.CancelAtPeriodEnd),
			PlanPriceID:       records.Ptr(current.PlanPriceID),
			DeviceHash:        records.Ptr(newDeviceHash),
			Epoch:             records.Ptr(current.Epoch + 1),
			Trial:             current.Trial,
			Transfer:          &completed,
		})
	})
	if err != nil {
		return nil, err
	}

	// New binding first, old key removed second: a crash in between leaves
	// a readable duplicate, never a missing license.
	if err := s.coordinator.Store().DeleteDevice(ctx, oldHash); err != nil {
		return nil, err
	}
	if legacyUserID != "" {
		if err := s.coordinator.Store().PutLegacyMapping(ctx, legacyUserID, newDeviceHash); err != nil {
			return nil, err
		}
	}
	if current.StripeCustomerID != "" {
		if err := s.coordinator.Store().PutCustomerMapping(ctx, current.StripeCustomerID, newDeviceHash); err != nil {
			return nil, err
		}
	}

	return &CompleteResult{DeviceHash: newDeviceHash, Epoch: merged.Epoch}, nil
}

// Cancel closes a pending transfer without moving anything.
func (s *Service) Cancel(ctx context.Context, deviceHash string) error {
	if deviceHash == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash is required")
	}
	_, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, now time.Time) records.Outcome {
		if current.Transfer == nil || !current.Transfer.Pending {
			return records.Reject(pkgerrors.New(pkgerrors.CodeTransferNotPending, "no transfer is pending for this device"))
		}
		cancelled := *current.Transfer
		cancelled.Pending = false
		cancelled.JTI = ""
		cancelled.Exp = 0
		cancelled.CancelledAt = records.Ptr(now.Unix())
		return records.Update(records.RecordUpdate{Transfer: &cancelled})
	})
	return err
}

func (s *Service) rollback(ctx context.Context, deviceHash string) error {
	_, err := s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, _ time.Time) records.Outcome {
		if current.Transfer == nil {
			return records.NoChange()
		}
		return records.Update(records.RecordUpdate{ClearTransfer: true})
	})
	return err
}

func (s *Service) acceptLink(deviceHash, token string) string {
	query := url.Values{}
	query.Set("device_hash", deviceHash)
	query.Set("token", token)
	return fmt.Sprintf("%s/transfer/accept?%s", s.acceptBaseURL, query.Encode())
}

func transferEmail(to, link string) mailer.Message {
	plain := fmt.Sprintf(
		"A license transfer was requested for your device.\n\n"+
			"Open this link on the new device to complete it:\n%s\n\n"+
			"The link expires shortly. If you did not request a transfer, ignore this email.",
		link,
	)
	html := fmt.Sprintf(
		`<p>A license transfer was requested for your device.</p>`+
			`<p><a href=%q>Complete the transfer on the new device</a></p>`+
			`<p>The link expires shortly. If you did not request a transfer, ignore this email.</p>`,
		link,
	)
	return mailer.Message{
		To:        to,
		Subject:   "Complete your license transfer",
		PlainBody: plain,
		HTMLBody:  html,
	}
}
