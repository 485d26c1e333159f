package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "unauthorized"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeRemoteUnavailable, status: http.StatusBadGateway, publicMsg: "remote catalog unavailable", retryable: true},
		{code: CodeRemoteFailure, status: http.StatusBadGateway, publicMsg: "remote purchase failed", retryable: true, detailsOK: true},
		{code: CodeInsufficientFunds, status: http.StatusPaymentRequired, publicMsg: "insufficient balance", detailsOK: true},
		{code: CodeLocalCommitFailure, status: http.StatusInternalServerError, publicMsg: "purchase requires manual reconciliation"},
		{code: CodePolicyInvalid, status: http.StatusUnprocessableEntity, publicMsg: "auto-buy policy invalid", detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("timeout")
	err := Wrap(CodeRemoteFailure, cause, "send gift")
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Code() != CodeRemoteFailure {
		t.Fatalf("unexpected code %s", err.Code())
	}
	if err.Error() != "REMOTE_FAILURE: send gift: timeout" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAsAndHasCode(t *testing.T) {
	inner := New(CodeInsufficientFunds, "balance too low")
	outer := Wrap(CodeDependency, fmt.Errorf("purchase: %w", inner), "store")

	if typed := As(outer); typed == nil || typed.Code() != CodeDependency {
		t.Fatalf("expected outer typed error, got %v", typed)
	}
	if !HasCode(outer, CodeInsufficientFunds) {
		t.Fatal("expected nested code to be found")
	}
	if HasCode(outer, CodeRemoteFailure) {
		t.Fatal("did not expect remote failure code")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors are not typed")
	}
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	if e.Code() != CodeInternal || e.Message() != "" || e.Details() != nil || e.Unwrap() != nil {
		t.Fatal("nil receiver accessors should be safe")
	}
}
