// Package waiver lets guardians ask for a late fine to be forgiven and lets
// administrators resolve those requests.
package waiver

import (
	"context"
	"fmt"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
)

// ApprovalPolicy decides what an approved waiver does to the fee record.
type ApprovalPolicy string

const (
	// PolicyRetainBase zeroes the fine and leaves the base amount payable.
	PolicyRetainBase ApprovalPolicy = "retain_base"
	// PolicyForgive zeroes the fine and excuses the record entirely.
	PolicyForgive ApprovalPolicy = "forgive"
)

func ParsePolicy(s string) (ApprovalPolicy, error) {
	switch ApprovalPolicy(s) {
	case "", PolicyRetainBase:
		return PolicyRetainBase, nil
	case PolicyForgive:
		return PolicyForgive, nil
	}
	return "", internal.NewValidationError(fmt.Sprintf("unknown waiver approval policy %q", s), internal.ErrCodeValidationFailed)
}

type RepositoryAPI interface {
	Create(ctx context.Context, req *waiver.Request) error
	GetByID(ctx context.Context, id string) (*waiver.Request, error)
	HasPending(ctx context.Context, feeRecordID string) (bool, error)
	ListForRecord(ctx context.Context, feeRecordID string) ([]*waiver.Request, error)
	ListPending(ctx context.Context, limit, offset int) ([]*waiver.Request, int64, error)
	// Resolve persists a decision on a request that is still pending. It
	// returns internal.ErrRequestAlreadyResolved when it is not.
	Resolve(ctx context.Context, req *waiver.Request) error
}

type Auditor interface {
	Record(ctx context.Context, action, actorID string, recordID *string, details map[string]interface{}) error
}

type ServiceAPI interface {
	Submit(ctx context.Context, caller internal.Caller, recordID string, req SubmitRequest) (*waiver.Request, error)
	Approve(ctx context.Context, caller internal.Caller, requestID string, req ResolveRequest) (*Decision, error)
	Reject(ctx context.Context, caller internal.Caller, requestID string, req ResolveRequest) (*Decision, error)
	ListForRecord(ctx context.Context, caller internal.Caller, recordID string) ([]*waiver.Request, error)
	ListPending(ctx context.Context, caller internal.Caller, limit, offset int) (*PendingList, error)
}
