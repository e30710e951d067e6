package model

import "errors"

var (
	// ErrUnsupportedProvider is returned for an unknown provider name
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrNoProfiles is returned when a client is built without auth profiles
	ErrNoProfiles = errors.New("no auth profiles configured")

	// ErrEmptyResponse is returned when a provider answers with no candidates
	ErrEmptyResponse = errors.New("no response choices returned")

	// ErrAllProfilesFailed is returned when every profile failed or is cooling down
	ErrAllProfilesFailed = errors.New("all auth profiles failed")
)
