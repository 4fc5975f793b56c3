package sessions

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindInternal},
		{name: "not found", err: newServiceError(opGet, "not_found", ErrSessionNotFound), want: KindNotFound},
		{name: "malformed secret", err: newServiceError(opCreate, "invalid_secret", bill.ValidateAdminSecret("12")), want: KindInvalidInput},
		{name: "oversized quantity", err: fmt.Errorf("wrapped: %w", bill.ErrInvalidQuantity), want: KindInvalidInput},
		{name: "incorrect secret", err: fmt.Errorf("verify: %w", ErrIncorrectSecret), want: KindUnauthorized},
		{name: "storage failure", err: errors.New("disk full"), want: KindInternal},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := Classify(testCase.err); got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}
