package waiver

import (
	"strings"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/common/validation"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
)

const maxNoteLength = 500

type SubmitRequest struct {
	Reason string `json:"reason"`
}

func (r *SubmitRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if appErr := validation.ValidateReason(r.Reason); appErr != nil {
		return appErr
	}
	return nil
}

type ResolveRequest struct {
	Note string `json:"note,omitempty"`
}

func (r *ResolveRequest) Validate() error {
	r.Note = strings.TrimSpace(r.Note)
	v := validation.NewValidator()
	v.Field("note", r.Note).MaxLength(maxNoteLength, internal.ErrCodeValidationFailed)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Decision is the resolved request together with the record it applied to.
type Decision struct {
	Request *waiver.Request      `json:"request"`
	Record  *feerecord.FeeRecord `json:"record"`
}

type PendingList struct {
	Requests []*waiver.Request `json:"requests"`
	Total    int64             `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}
