package service

import (
	"errors"

	"lead-scraper-service/internal/repository/postgresql"
)

var (
	// ErrMissingParameters means keyword or location was empty after
	// normalization. Rejected before any side effect.
	ErrMissingParameters = errors.New("missing 'keyword' or 'location'")

	// ErrUserNotFound means the authenticated user has no ledger row.
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientCredits means the balance was exhausted before or
	// during a run.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrJobAlreadyRunning means the user already has a job in flight.
	ErrJobAlreadyRunning = errors.New("a search job is already running for this account")

	// ErrJobNotFound means the job ID does not exist or belongs to someone
	// else.
	ErrJobNotFound = errors.New("job not found")
)

// lookupJobErr maps the repository's not-found sentinel onto the job
// taxonomy.
func lookupJobErr(err error) error {
	if errors.Is(err, postgresql.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}
