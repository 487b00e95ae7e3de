// Package services contains the server-side business logic: the SRP
// handshake store, the login session store, the password-change coordinator,
// and the secure data store. Every public operation executes inside exactly
// one transaction; the account row is the synchronization point for
// credential rotation.
package services

import (
	"context"
	"errors"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
)

// expected errors pass through mapError untouched; everything else is
// logged with context and collapsed into an opaque sentinel so no storage
// or driver detail leaks to callers.
var expected = []error{
	common.ErrorAccountNotFound,
	common.ErrorDuplicateAccount,
	common.ErrorNotFound,
	common.ErrorRotationInProgress,
	common.ErrorRotationMismatch,
	common.ErrorProofMismatch,
}

func mapError(ctx context.Context, log logging.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}

	var beginErr *dbx.BeginError
	if errors.As(err, &beginErr) {
		log.Error(ctx, "storage unavailable", "op", op, "error", err.Error())
		return common.ErrorStorageUnavailable
	}

	log.Error(ctx, "unexpected failure", "op", op, "error", err.Error())
	return common.ErrorInternal
}
