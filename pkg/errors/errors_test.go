package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeInvalidRule, http.StatusBadRequest},
		{CodeUnknownField, http.StatusBadRequest},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeRuleSourceUnavailable, http.StatusInternalServerError},
		{CodeStoreUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus; got != tt.expected {
				t.Errorf("HTTPStatus = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestIs_WrappedError(t *testing.T) {
	base := UnknownField("user.shoeSize")
	wrapped := fmt.Errorf("规则 r1: %w", base)

	if !Is(wrapped, CodeUnknownField) {
		t.Error("Is() should see through fmt.Errorf wrapping")
	}
	if GetCode(wrapped) != CodeUnknownField {
		t.Errorf("GetCode() = %s", GetCode(wrapped))
	}
	if GetCode(fmt.Errorf("plain")) != CodeUnknown {
		t.Error("plain errors should map to UNKNOWN")
	}
}

func TestValidationErrors_ToAppError(t *testing.T) {
	var ve ValidationErrors
	if ve.HasErrors() {
		t.Fatal("empty ValidationErrors should have no errors")
	}

	ve.Add("id", "不能为空")
	ve.Addf("priority", "超出范围: %d", -1)

	appErr := ve.ToAppError(CodeInvalidRule, "规则定义无效")
	if appErr.Code != CodeInvalidRule {
		t.Errorf("Code = %s", appErr.Code)
	}
	if len(appErr.Fields) != 2 {
		t.Errorf("expected 2 fields, got %d", len(appErr.Fields))
	}
	if appErr.Fields["priority"] != "超出范围: -1" {
		t.Errorf("unexpected field message: %v", appErr.Fields["priority"])
	}
}
