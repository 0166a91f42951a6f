package domain

import "errors"

var (
	// Validation
	ErrInvalidSpec     = errors.New("invalid batch spec")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidPayload  = errors.New("invalid redemption payload")

	// Authorization
	ErrNotOwner            = errors.New("not the owner")
	ErrWrongRole           = errors.New("wrong role for operation")
	ErrNotIssuer           = errors.New("not the issuer")
	ErrUnauthorizedScanner = errors.New("scanner not authorized for event")

	// Conflict
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrBatchCancelled        = errors.New("batch cancelled")
	ErrAlreadyUsed           = errors.New("ticket already used")
	ErrNotRedeemable         = errors.New("ticket listed for resale, not redeemable")
	ErrNotListed             = errors.New("ticket not listed for resale")
	ErrInvalidState          = errors.New("invalid ticket state for operation")
	ErrSelfPurchase          = errors.New("cannot buy own listing")
	ErrReservationConsumed   = errors.New("reservation already consumed")
	ErrReservationExpired    = errors.New("reservation expired")

	// NotFound
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInstanceNotFound = errors.New("ticket not found")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrUnknownPrincipal = errors.New("unknown principal")
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
)

var kinds = map[Kind][]error{
	KindValidation: {ErrInvalidSpec, ErrInvalidQuantity, ErrInvalidPrice, ErrInvalidPayload},
	KindAuthorization: {
		ErrNotOwner, ErrWrongRole, ErrNotIssuer, ErrUnauthorizedScanner,
	},
	KindConflict: {
		ErrInsufficientInventory, ErrBatchCancelled, ErrAlreadyUsed, ErrNotRedeemable,
		ErrNotListed, ErrInvalidState, ErrSelfPurchase,
		ErrReservationConsumed, ErrReservationExpired,
	},
	KindNotFound: {ErrBatchNotFound, ErrInstanceNotFound, ErrUnknownEvent, ErrUnknownPrincipal},
}

// KindOf classifies an error chain into its taxonomy kind. Unrecognized
// errors are internal.
func KindOf(err error) Kind {
	for kind, sentinels := range kinds {
		for _, sentinel := range sentinels {
			if errors.Is(err, sentinel) {
				return kind
			}
		}
	}
	return KindInternal
}
