package optionscache

import (
	"errors"

	"github.com/Keksclan/optionscache/snapshot"
	"github.com/Keksclan/optionscache/store"
)

var (
	// ErrProviderFetch is returned when the provider call fails or its output
	// is malformed. The fetch is attempted once; nothing is written.
	ErrProviderFetch = errors.New("optionscache: provider fetch failed")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. It is never masked.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrInvalidTicker is returned for a ticker that is empty after
	// normalization.
	ErrInvalidTicker = snapshot.ErrInvalidTicker
)
