package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"formtato/internal/commission"
)

var ErrInvalidTransition = errors.New("invalid form transition")

type State int

const (
	EnterDetails State = iota
	Review
	Confirmed
)

func (s State) String() string {
	switch s {
	case EnterDetails:
		return "enter_details"
	case Review:
		return "review"
	case Confirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Field string

const (
	FieldName            Field = "name"
	FieldTwitterUsername Field = "twitterUsername"
	FieldWalletAddress   Field = "walletAddress"
)

// Details are the fields typed into the first form step.
type Details struct {
	Name            string
	TwitterUsername string
	WalletAddress   string
}

// FieldErrors flags the required fields that were empty on submit.
type FieldErrors struct {
	Name            bool `json:"name"`
	TwitterUsername bool `json:"twitterUsername"`
	WalletAddress   bool `json:"walletAddress"`
}

func (e FieldErrors) Any() bool {
	return e.Name || e.TwitterUsername || e.WalletAddress
}

// Submitter records a paid commission and returns its id.
type Submitter interface {
	Submit(ctx context.Context, req commission.Request) (int64, error)
}

// Form is the three-step order form. It only moves forward; a new Form is
// the reset.
type Form struct {
	submitter Submitter

	// confirmMu serializes Confirm so a repeated hash sees the first result.
	confirmMu sync.Mutex

	mu                  sync.RWMutex
	state               State
	details             Details
	errs                FieldErrors
	inspirationURI      string
	inspirationFileName string
	commissionID        int64
	txHash              string
}

func NewForm(submitter Submitter) *Form {
	return &Form{submitter: submitter}
}

// FormView is a read-only copy of the form for rendering.
type FormView struct {
	State               State
	Details             Details
	Errors              FieldErrors
	InspirationURI      string
	InspirationFileName string
	CommissionID        int64
	TxHash              string
}

func (f *Form) View() FormView {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FormView{
		State:               f.state,
		Details:             f.details,
		Errors:              f.errs,
		InspirationURI:      f.inspirationURI,
		InspirationFileName: f.inspirationFileName,
		CommissionID:        f.commissionID,
		TxHash:              f.txHash,
	}
}

func (f *Form) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// SubmitDetails stores d and moves to Review when every required field is
// set. Otherwise exactly the empty fields are flagged.
func (f *Form) SubmitDetails(d Details) (FieldErrors, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != EnterDetails {
		return FieldErrors{}, fmt.Errorf("%w: submit details in %s", ErrInvalidTransition, f.state)
	}

	f.details = d
	f.errs = FieldErrors{
		Name:            d.Name == "",
		TwitterUsername: d.TwitterUsername == "",
		WalletAddress:   d.WalletAddress == "",
	}
	if f.errs.Any() {
		return f.errs, nil
	}
	f.state = Review
	return f.errs, nil
}

// ClearFieldError resets one error flag, as leaving the field does.
func (f *Form) ClearFieldError(field Field) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch field {
	case FieldName:
		f.errs.Name = false
	case FieldTwitterUsername:
		f.errs.TwitterUsername = false
	case FieldWalletAddress:
		f.errs.WalletAddress = false
	}
}

// SetInspirationURI and SetInspirationFileName are the upload control's callbacks.
func (f *Form) SetInspirationURI(uri string) {
	f.mu.Lock()
	f.inspirationURI = uri
	f.mu.Unlock()
}

func (f *Form) SetInspirationFileName(name string) {
	f.mu.Lock()
	f.inspirationFileName = name
	f.mu.Unlock()
}

// Confirm records the payment and moves to Confirmed. The submitter runs once
// per form: repeating the confirmed hash is a no-op, and a failed submit
// keeps the form in Review.
func (f *Form) Confirm(ctx context.Context, txHash string) (int64, error) {
	f.confirmMu.Lock()
	defer f.confirmMu.Unlock()

	f.mu.RLock()
	state, confirmedHash, id := f.state, f.txHash, f.commissionID
	req := commission.Request{
		Name:            f.details.Name,
		TwitterUsername: f.details.TwitterUsername,
		TxHash:          txHash,
		InspirationURI:  optional(f.inspirationURI),
		WalletAddress:   optional(f.details.WalletAddress),
	}
	f.mu.RUnlock()

	switch {
	case state == Confirmed && confirmedHash == txHash:
		return id, nil
	case state != Review:
		return 0, fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, state)
	case txHash == "":
		return 0, fmt.Errorf("%w: empty transaction hash", ErrInvalidTransition)
	}

	id, err := f.submitter.Submit(ctx, req)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.state = Confirmed
	f.txHash = txHash
	f.commissionID = id
	f.mu.Unlock()
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
