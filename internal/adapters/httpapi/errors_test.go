package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"cyclekeeper/internal/blob"
	"cyclekeeper/pkg/domain"
)

func TestClassify(t *testing.T) {
	blocked := domain.RuleViolationError{Result: domain.Result{Violations: []domain.Violation{{
		Code: domain.CodeStageNotReached, Severity: domain.SeverityBlock, Message: "culture day below 5",
	}}}}
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.InvalidInput(domain.EntityCycle, "start_date", "is required"), http.StatusBadRequest, codeInvalidInput},
		{fmt.Errorf("wrap: %w", domain.ErrMissingPrerequisite), http.StatusUnprocessableEntity, codeMissingPrerequisite},
		{blocked, http.StatusUnprocessableEntity, codeStageNotReached},
		{domain.NotFoundError{Entity: domain.EntityCycle, ID: "c1"}, http.StatusNotFound, codeNotFound},
		{blob.ErrUnsupported, http.StatusNotImplemented, codeUnsupported},
		{errors.New("disk on fire"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		status, body := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Error)
	}

	_, body := classify(errors.New("secret detail"))
	assert.NotContains(t, body.Message, "secret")
}
