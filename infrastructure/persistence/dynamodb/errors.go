package dynamodb

import (
	"errors"

	"github.com/aws/smithy-go"

	apperrors "graphsync/pkg/errors"
)

// classify maps DynamoDB failures onto the error taxonomy. Throttling and
// service-side failures make the store unavailable; anything else is a
// database error.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return apperrors.NewStoreUnavailableError(err)
	}

	switch ae.ErrorCode() {
	case "ProvisionedThroughputExceededException",
		"RequestLimitExceeded",
		"ThrottlingException",
		"InternalServerError",
		"ServiceUnavailable":
		return apperrors.NewStoreUnavailableError(err)
	case "ConditionalCheckFailedException", "TransactionCanceledException", "TransactionConflictException":
		return apperrors.NewConflictError("concurrent write to the graph: " + ae.ErrorMessage()).WithCause(err)
	default:
		return apperrors.NewDatabaseError(operation, err)
	}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}
