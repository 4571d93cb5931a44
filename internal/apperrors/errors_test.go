package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs_MatchesByCode(t *testing.T) {
	err := Newf(CodeAlreadyPaid, "installment %s is already paid", "inst-1")

	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.NotErrorIs(t, err, ErrAlreadyApproved)
}

func TestErrorIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("record payment: %w", Newf(CodeUnknownInstallment, "installment %s", "x"))

	assert.ErrorIs(t, err, ErrUnknownInstallment)
	assert.Equal(t, CodeUnknownInstallment, CodeOf(err))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Nil(t, MetadataOf(errors.New("boom")))
}

func TestWithMetadata_CopiesMap(t *testing.T) {
	meta := map[string]string{"FromStatus": "expired"}
	err := WithMetadata(CodeInvalidTransition, "nope", meta)
	meta["FromStatus"] = "active"

	assert.Equal(t, "expired", MetadataOf(err)["FromStatus"])
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeInternal, "failed to save policy", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeNotFound:           http.StatusNotFound,
		CodeUnknownInstallment: http.StatusNotFound,
		CodeInvalidTransition:  http.StatusConflict,
		CodeAlreadyPaid:        http.StatusConflict,
		CodeAlreadyApproved:    http.StatusConflict,
		CodeCycleDetected:      http.StatusConflict,
		CodeVersionConflict:    http.StatusConflict,
		CodePaymentError:       http.StatusUnprocessableEntity,
		CodeValidationFailed:   http.StatusUnprocessableEntity,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %s", code)
	}
}
