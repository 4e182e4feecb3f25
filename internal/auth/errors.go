package auth

import "errors"

var (
	// Validation.
	ErrValidation   = errors.New("auth: invalid input")
	ErrInvalidTaxID = errors.New("auth: invalid tax id")

	// Not found.
	ErrNotFound        = errors.New("auth: not found")
	ErrUserNotFound    = errors.New("auth: user not found")
	ErrProjectNotFound = errors.New("auth: project not found")

	// Conflicts.
	ErrDuplicateEmail = errors.New("auth: email already registered")
	ErrDuplicateTaxID = errors.New("auth: tax id already registered")

	// Authentication.
	ErrIncorrectPassword = errors.New("auth: incorrect password")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrBirthDateMismatch = errors.New("auth: birth date does not correspond to the tax id")

	// Authorization.
	ErrNotAuthorized  = errors.New("auth: project does not have authorization")
	ErrNotVerified    = errors.New("auth: user is not verified")
	ErrEndpointDenied = errors.New("auth: user is not authorized to access this endpoint")

	// Collaborators.
	ErrUpstream    = errors.New("auth: registry lookup failed")
	ErrRateLimited = errors.New("auth: too many login attempts")
)
